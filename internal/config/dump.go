package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"
	"github.com/tidwall/sjson"
)

const redacted = "******"

var secretKeys = map[string]bool{
	"proxy.secret_key": true,
}

// Dump renders the effective configuration of v as JSON, with secrets
// redacted. viper's dotted keys map directly onto sjson paths.
func Dump(v *viper.Viper) ([]byte, error) {
	keys := v.AllKeys()
	sort.Strings(keys)

	doc := []byte(`{}`)
	for _, key := range keys {
		value := v.Get(key)
		if secretKeys[key] {
			if s, _ := value.(string); s != "" {
				value = redacted
			}
		}
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}

		var err error
		doc, err = sjson.SetBytes(doc, key, value)
		if err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return doc, nil
}

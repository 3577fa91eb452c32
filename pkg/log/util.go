package log

import (
	"encoding"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// toFields turns logr-style key/value arguments into zap fields.
//
// Bare errors and zap.Fields may appear anywhere in args. A trailing value
// without a key is kept under "arg#N". Keys may be strings or named values
// such as a component or a state, which log under their name.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch a := args[i].(type) {
		case zap.Field:
			fields = append(fields, a)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(a))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, val := args[i], args[i+1]
		i += 2

		name, ok := keyName(key)
		if !ok {
			fields = append(fields, zap.Any(fmt.Sprintf("invalid_key_%d", i/2), map[string]any{
				"key":   key,
				"value": val,
			}))
			continue
		}
		fields = append(fields, field(name, val))
	}

	return fields
}

func keyName(key any) (string, bool) {
	switch k := key.(type) {
	case string:
		return k, k != ""
	case encoding.TextMarshaler:
		b, err := k.MarshalText()
		return string(b), err == nil && len(b) > 0
	case fmt.Stringer:
		s := k.String()
		return s, s != ""
	}
	return "", false
}

func field(key string, val any) zap.Field {
	switch v := val.(type) {
	case string:
		return zap.String(key, v)
	case bool:
		return zap.Bool(key, v)
	case int:
		return zap.Int(key, v)
	case int8:
		return zap.Int8(key, v)
	case int16:
		return zap.Int16(key, v)
	case int32:
		return zap.Int32(key, v)
	case int64:
		return zap.Int64(key, v)
	case uint:
		return zap.Uint(key, v)
	case uint8:
		return zap.Uint8(key, v)
	case uint16:
		return zap.Uint16(key, v)
	case uint32:
		return zap.Uint32(key, v)
	case uint64:
		return zap.Uint64(key, v)
	case float32:
		return zap.Float32(key, v)
	case float64:
		return zap.Float64(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case time.Time:
		return zap.Time(key, v)
	case error:
		return zap.NamedError(key, v)
	case []string:
		return zap.Strings(key, v)
	case []byte:
		return zap.Binary(key, v)
	case fmt.Stringer:
		// Enums such as core.Component log by name, not by ordinal.
		return zap.Stringer(key, v)
	case encoding.TextMarshaler:
		if b, err := v.MarshalText(); err == nil {
			return zap.ByteString(key, b)
		}
	}
	return zap.Any(key, val)
}

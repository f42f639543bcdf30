package transforms

import (
	"reflect"

	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/config"
	"github.com/travigo/sirihub/pkg/siri"
)

// TransformDefinition overwrites fields on every element whose fields
// equal all of Match. An empty Type applies to every data type.
type TransformDefinition struct {
	Type  siri.DataType
	Match map[string]string
	Data  map[string]any
}

func NewTransformDefinition(transformConfig config.TransformConfig) *TransformDefinition {
	return &TransformDefinition{
		Type:  siri.DataType(transformConfig.Type),
		Match: transformConfig.Match,
		Data:  transformConfig.Data,
	}
}

func (t *TransformDefinition) appliesTo(dataType siri.DataType) bool {
	return t.Type == "" || t.Type == dataType
}

// Transform applies the definition to input, a pointer to a struct, and to
// every struct nested inside it.
func (t *TransformDefinition) Transform(input any) {
	inputValue := reflect.ValueOf(input)
	if inputValue.Kind() != reflect.Pointer || inputValue.IsNil() {
		return
	}

	t.transformValue(inputValue.Elem())
}

func (t *TransformDefinition) transformValue(inputValue reflect.Value) {
	if !inputValue.IsValid() || inputValue.Kind() != reflect.Struct {
		return
	}

	if t.matches(inputValue) {
		for key, value := range t.Data {
			field := inputValue.FieldByName(key)
			if !field.IsValid() || !field.CanSet() {
				continue
			}

			newValue := reflect.ValueOf(value)
			if !newValue.IsValid() || !assignable(newValue.Type(), field.Type()) {
				log.Warn().Str("field", key).Msgf("Cannot set transform value of type %T", value)
				continue
			}

			field.Set(newValue.Convert(field.Type()))
		}
	}

	for i := 0; i < inputValue.NumField(); i++ {
		if !inputValue.Type().Field(i).IsExported() {
			continue
		}

		valueField := inputValue.Field(i)

		switch valueField.Kind() {
		case reflect.Pointer:
			if !valueField.IsNil() {
				t.transformValue(valueField.Elem())
			}
		case reflect.Struct:
			t.transformValue(valueField)
		case reflect.Slice:
			for j := 0; j < valueField.Len(); j++ {
				t.transformValue(valueField.Index(j))
			}
		}
	}
}

func (t *TransformDefinition) matches(inputValue reflect.Value) bool {
	if len(t.Match) == 0 {
		return false
	}

	for key, value := range t.Match {
		field := inputValue.FieldByName(key)
		if !field.IsValid() || field.Kind() != reflect.String || field.String() != value {
			return false
		}
	}

	return true
}

// assignable allows exact types plus numbers of any width, which is what
// YAML decoding produces for numeric fields.
func assignable(from reflect.Type, to reflect.Type) bool {
	if from.AssignableTo(to) {
		return true
	}

	return isNumeric(from.Kind()) && isNumeric(to.Kind())
}

func isNumeric(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}

	return false
}

package bus

import "reflect"

// typeName derives a stable routing key from msg's Go type, stripping
// pointer indirection so *FooEvent and FooEvent route identically.
func typeName(msg Message) string {
	t := reflect.TypeOf(msg)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

package metrics

import "go.opentelemetry.io/otel/attribute"

func functionAttr(functionName string) attribute.KeyValue {
	return attribute.String("function_name", functionName)
}

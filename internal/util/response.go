package util

type Envelope map[string]any

func Error(message string) Envelope {
	return Envelope{"error": message}
}

func FieldErrors(fields any) Envelope {
	return Envelope{"error": "validation failed", "fields": fields}
}

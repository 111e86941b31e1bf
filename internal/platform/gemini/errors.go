package gemini

import "errors"

var (
	// ErrInvalidConfig is returned when the LLM configuration cannot produce a client.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidInput is returned when the job input does not match the kind's schema.
	ErrInvalidInput = errors.New("invalid job input")

	// ErrInvalidResponse is returned when the model's answer is empty or not the expected JSON.
	ErrInvalidResponse = errors.New("invalid response from gemini")

	// ErrContentBlocked is returned when the model refuses to answer on safety grounds.
	ErrContentBlocked = errors.New("content blocked by safety filters")
)

// Package transcription turns an audio file into ordered, timed text units
// using a whisper-compatible HTTP service.
package transcription

import (
	"context"

	"github.com/shopspring/decimal"
)

// Unit is one timed piece of a transcript. ID is the ordinal assigned by the
// model and becomes the segment id.
type Unit struct {
	ID    int
	Start decimal.Decimal
	End   decimal.Decimal
	Text  string
}

// Transcriber transcribes the audio at path. language is a hint such as "en".
type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) ([]Unit, error)
}

package assessment

import "context"

const (
	ErrorNone      = "None"
	ErrorOmission  = "Omission"
	ErrorInsertion = "Insertion"
)

type Word struct {
	Text          string
	AccuracyScore float64
	ErrorType     string
	// Duration in seconds.
	Duration float64
}

// Utterance is one recognized phrase with its word level scores.
type Utterance struct {
	Words        []Word
	FluencyScore float64
	ProsodyScore float64
}

// Duration is the summed duration of the utterance's words.
func (u Utterance) Duration() float64 {
	var d float64
	for _, w := range u.Words {
		d += w.Duration
	}
	return d
}

// Assessor scores how closely the speech in a WAV file follows
// referenceText.
type Assessor interface {
	Assess(ctx context.Context, wavPath, referenceText string) ([]Utterance, error)
}

package synth

import "fmt"

// ErrCodeAudioTooQuiet is the stable machine-readable code reported to hooks
// when the reference sample is below the loudness threshold.
const ErrCodeAudioTooQuiet = "AUDIO_TOO_QUIET"

// QuietAudioError is returned when the reference audio's measured signal
// level is below the engine's acceptance threshold. It carries the measured
// RMS level and the threshold, both in dB.
type QuietAudioError struct {
	RMSLevel  float64
	Threshold float64
}

func (e *QuietAudioError) Error() string {
	return fmt.Sprintf("reference audio too quiet: RMS %.2f dB below threshold %.2f dB",
		e.RMSLevel, e.Threshold)
}

// Code returns the machine-readable error code for hook payloads.
func (e *QuietAudioError) Code() string { return ErrCodeAudioTooQuiet }

package stt

// VADEvent is the speech boundary reported for one frame.
type VADEvent int

const (
	VADIdle VADEvent = iota
	VADSpeechStart
	VADSpeechActive
	VADSpeechEnd
)

// VAD is an energy detector timed in milliseconds of audio, so frames of any
// size can be fed to it.
type VAD struct {
	threshold float64
	speechMin int
	silence   int

	speaking  bool
	speechMS  int
	silenceMS int
}

func NewVAD(threshold float64, speechMinMS, silenceMS int) *VAD {
	return &VAD{threshold: threshold, speechMin: speechMinMS, silence: silenceMS}
}

// Process classifies one frame of the given duration.
func (v *VAD) Process(pcm []byte, frameMS int) VADEvent {
	loud := rmsEnergy(pcm) >= v.threshold
	if !v.speaking {
		if !loud {
			v.speechMS = 0
			return VADIdle
		}
		v.speechMS += frameMS
		if v.speechMS >= v.speechMin {
			v.speaking = true
			v.silenceMS = 0
			return VADSpeechStart
		}
		return VADIdle
	}

	if loud {
		v.silenceMS = 0
		v.speechMS += frameMS
		return VADSpeechActive
	}
	v.silenceMS += frameMS
	if v.silenceMS >= v.silence {
		v.speaking = false
		v.speechMS = 0
		v.silenceMS = 0
		return VADSpeechEnd
	}
	return VADSpeechActive
}

// Candidate reports whether loud audio is accumulating towards a speech start.
func (v *VAD) Candidate() bool {
	return !v.speaking && v.speechMS > 0
}

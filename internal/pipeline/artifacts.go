package pipeline

// ArtifactKind identifies the data format flowing between stages.
type ArtifactKind string

const (
	ArtifactScoreImage  ArtifactKind = "score-image"
	ArtifactMusicXML    ArtifactKind = "musicxml"
	ArtifactMIDI        ArtifactKind = "midi"
	ArtifactAudio       ArtifactKind = "audio"
	ArtifactNotationPDF ArtifactKind = "notation-pdf"
)

var allArtifactKinds = []ArtifactKind{
	ArtifactScoreImage,
	ArtifactMusicXML,
	ArtifactMIDI,
	ArtifactAudio,
	ArtifactNotationPDF,
}

// AllArtifactKinds returns the ordered list of known artifact kinds.
func AllArtifactKinds() []ArtifactKind {
	cp := make([]ArtifactKind, len(allArtifactKinds))
	copy(cp, allArtifactKinds)
	return cp
}

// ContentType returns the MIME type recorded on published artifacts of this
// kind.
func (k ArtifactKind) ContentType() string {
	switch k {
	case ArtifactScoreImage:
		return "image/png"
	case ArtifactMusicXML:
		return "application/vnd.recordare.musicxml+xml"
	case ArtifactMIDI:
		return "audio/midi"
	case ArtifactAudio:
		return "audio/wav"
	case ArtifactNotationPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// FileName returns the canonical file name artifacts of this kind are
// published under inside a stage directory.
func (k ArtifactKind) FileName() string {
	switch k {
	case ArtifactScoreImage:
		return "score.png"
	case ArtifactMusicXML:
		return "score.musicxml"
	case ArtifactMIDI:
		return "notes.mid"
	case ArtifactAudio:
		return "performance.wav"
	case ArtifactNotationPDF:
		return "notation.pdf"
	default:
		return string(k)
	}
}

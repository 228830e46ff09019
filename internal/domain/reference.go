package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorKind classifies why a unit of work failed.
type ErrorKind string

const (
	MissingInput    ErrorKind = "MissingInput"
	UpstreamTimeout ErrorKind = "UpstreamTimeout"
	UpstreamError   ErrorKind = "UpstreamError"
	DownloadFailed  ErrorKind = "DownloadFailed"
	ParseFailure    ErrorKind = "ParseFailure"
	// Internal marks a recovered programming error.
	Internal ErrorKind = "Internal"
)

// Failure is a typed failure value. It implements error so it can travel
// through ordinary error returns when that is convenient.
type Failure struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// Failf builds a Failure with a formatted detail.
func Failf(kind ErrorKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Outcome is the result of one extraction backend run: raw text on success,
// a failure otherwise. Exactly one side is set.
type Outcome struct {
	RawText string
	Err     *Failure
}

// Succeeded wraps raw backend text.
func Succeeded(raw string) Outcome { return Outcome{RawText: raw} }

// Failed wraps a failure.
func Failed(f *Failure) Outcome { return Outcome{Err: f} }

// OK reports whether the outcome carries raw text.
func (o Outcome) OK() bool { return o.Err == nil }

// Render serializes the whole outcome so it can be re-fed to the normalizer
// when the inner text alone is ambiguous.
func (o Outcome) Render() string {
	var v any
	if o.OK() {
		v = map[string]string{"raw_response": o.RawText}
	} else {
		v = map[string]string{"error": o.Err.Error()}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// PodcastReference is the canonical four-field identification of a podcast.
// The content fields are always present; Error is set only on failure.
type PodcastReference struct {
	Title       string `json:"title"`
	Channel     string `json:"channel"`
	ChannelLink string `json:"channelLink"`
	URL         string `json:"url"`
	Error       string `json:"error,omitempty"`
}

// FailedReference returns an empty reference carrying the failure message.
func FailedReference(err error) PodcastReference {
	return PodcastReference{Error: err.Error()}
}

// Empty reports whether none of the content fields were identified.
func (r PodcastReference) Empty() bool {
	return r.Title == "" && r.Channel == "" && r.ChannelLink == "" && r.URL == ""
}

// Method selects an extraction backend.
type Method string

const (
	MethodCaption       Method = "Caption"
	MethodTranscription Method = "Transcription"
	MethodMultimodal    Method = "Multimodal"
)

// Methods lists every backend in display order.
var Methods = []Method{MethodCaption, MethodTranscription, MethodMultimodal}

// RequiresVideo reports whether the backend needs the post's video.
func (m Method) RequiresVideo() bool {
	return m == MethodTranscription || m == MethodMultimodal
}

// ParseMethod resolves a method name case-insensitively. "Gemini" is
// accepted as an alias for Multimodal.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "caption":
		return MethodCaption, nil
	case "transcription", "whisper":
		return MethodTranscription, nil
	case "multimodal", "gemini":
		return MethodMultimodal, nil
	}
	return "", fmt.Errorf("unknown analysis method %q (want Caption, Transcription or Multimodal)", s)
}

// BackendReference is one backend's normalized answer for a post.
type BackendReference struct {
	Method    Method           `json:"method"`
	Reference PodcastReference `json:"reference"`
}

// AnalysisRecord is the full analysis of one post. It holds at most one
// reference per backend.
type AnalysisRecord struct {
	Post       SocialPost         `json:"post"`
	References []BackendReference `json:"references"`
}

// Reference returns the reference produced by method, if any.
func (a AnalysisRecord) Reference(m Method) (PodcastReference, bool) {
	for _, br := range a.References {
		if br.Method == m {
			return br.Reference, true
		}
	}
	return PodcastReference{}, false
}

// HasError reports whether any backend failed for this post.
func (a AnalysisRecord) HasError() bool {
	for _, br := range a.References {
		if br.Reference.Error != "" {
			return true
		}
	}
	return false
}

// Links returns the distinct non-empty URLs and channel links found by any
// backend, in backend order.
func (a AnalysisRecord) Links() []string {
	seen := make(map[string]bool)
	var links []string
	for _, br := range a.References {
		for _, l := range []string{br.Reference.URL, br.Reference.ChannelLink} {
			l = strings.TrimSpace(l)
			if l == "" || seen[l] {
				continue
			}
			seen[l] = true
			links = append(links, l)
		}
	}
	return links
}

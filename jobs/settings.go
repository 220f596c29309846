package jobs

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Format string

const (
	FormatHLS      Format = "hls"
	FormatDASH     Format = "dash"
	FormatAdaptive Format = "adaptive"
	FormatMP4      Format = "mp4"
)

func (f Format) Valid() bool {
	switch f {
	case FormatHLS, FormatDASH, FormatAdaptive, FormatMP4:
		return true
	}
	return false
}

type PlaylistType string

const (
	PlaylistVOD  PlaylistType = "vod"
	PlaylistLive PlaylistType = "live"
)

const DefaultSegmentLength = 10

// Settings is the blob handed to a rendition controller. A job-level
// blob carries Outputs (one per rendition); the per-rendition copy stored
// on each Output carries a single Output entry instead.
type Settings struct {
	ID            string            `json:"id,omitempty"`
	Input         string            `json:"input,omitempty"`
	Destination   string            `json:"destination,omitempty"`
	FileName      string            `json:"file_name,omitempty"`
	Format        Format            `json:"format,omitempty"`
	SegmentLength int               `json:"segment_length,omitempty"`
	PlaylistType  PlaylistType      `json:"playlist_type,omitempty"`
	Output        *OutputSettings   `json:"output,omitempty"`
	Outputs       []*OutputSettings `json:"outputs,omitempty"`
	Encryption    *Encryption       `json:"encryption,omitempty"`
	MetaData      map[string]string `json:"meta_data,omitempty"`
}

type OutputSettings struct {
	Name  string        `json:"name"`
	URL   string        `json:"url,omitempty"`
	Pipe  string        `json:"pipe,omitempty"`
	Input string        `json:"input,omitempty"`
	Video VideoSettings `json:"video"`
	Audio AudioSettings `json:"audio"`
}

type VideoSettings struct {
	Codec   string `json:"codec,omitempty"`
	Preset  string `json:"preset,omitempty"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bitrate int    `json:"bitrate,omitempty"`
}

type AudioSettings struct {
	Codec   string `json:"codec,omitempty"`
	Bitrate int    `json:"bitrate,omitempty"`
}

// Encryption holds either an HLS AES-128 key pair (Key + URL) or a DRM
// block with Widevine and/or FairPlay sub-blocks.
type Encryption struct {
	Key      string       `json:"key,omitempty"`
	URL      string       `json:"url,omitempty"`
	Widevine *WidevineDRM `json:"widevine,omitempty"`
	Fairplay *FairplayDRM `json:"fairplay,omitempty"`
}

type WidevineDRM struct {
	KeyServerURL  string `json:"key_server_url"`
	ContentID     string `json:"content_id"`
	Signer        string `json:"signer"`
	AESSigningKey string `json:"aes_signing_key"`
	AESSigningIV  string `json:"aes_signing_iv"`
}

type FairplayDRM struct {
	Key    string `json:"key"`
	KeyID  string `json:"key_id,omitempty"`
	IV     string `json:"iv"`
	KeyURI string `json:"key_uri"`
}

// Clone deep-copies a settings blob. Controllers mutate their copy
// (output pipe paths, per-format overrides), so the stored blob must be
// treated as immutable.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	out := *s
	out.Output = s.Output.Clone()
	out.Outputs = nil
	for _, o := range s.Outputs {
		out.Outputs = append(out.Outputs, o.Clone())
	}
	out.Encryption = s.Encryption.Clone()
	if s.MetaData != nil {
		out.MetaData = make(map[string]string, len(s.MetaData))
		for k, v := range s.MetaData {
			out.MetaData[k] = v
		}
	}
	return &out
}

func (o *OutputSettings) Clone() *OutputSettings {
	if o == nil {
		return nil
	}
	out := *o
	return &out
}

func (e *Encryption) Clone() *Encryption {
	if e == nil {
		return nil
	}
	out := *e
	if e.Widevine != nil {
		w := *e.Widevine
		out.Widevine = &w
	}
	if e.Fairplay != nil {
		f := *e.Fairplay
		out.Fairplay = &f
	}
	return &out
}

// SegmentLengthOrDefault returns the configured segment length in
// seconds, defaulting to 10.
func (s *Settings) SegmentLengthOrDefault() int {
	if s.SegmentLength > 0 {
		return s.SegmentLength
	}
	return DefaultSegmentLength
}

// DefaultFileName is the output file the transcoder writes when the job
// doesn't name one.
func DefaultFileName(f Format) string {
	switch f {
	case FormatMP4:
		return "video.mp4"
	case FormatHLS:
		return "video.m3u8"
	case FormatDASH, FormatAdaptive:
		return "video.mpd"
	}
	return ""
}

func Resolution(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}

// PopulateSettings materialises the job's settings blob: template merge,
// then the fields derived from the job row itself (id, destination,
// file name, input, optional encryption).
func (j *Job) PopulateSettings(template *JobTemplate) {
	settings := j.Settings
	if template != nil {
		settings = template.TemplateSettings()
	}
	if settings == nil {
		settings = &Settings{}
	}

	destination, fileName := splitOutputURL(j.OutputURL)
	settings.ID = j.ID.String()
	settings.Destination = destination
	settings.FileName = fileName
	settings.Input = j.InputURL
	settings.MetaData = j.MetaData

	if j.EncryptionKey != "" {
		settings.Encryption = &Encryption{Key: j.EncryptionKey, URL: j.KeyURL}
	}

	j.Settings = settings
}

// CreateOutputs builds one Output row per rendition in the job settings.
// Each gets a deep copy of the job blob with the single rendition
// substituted in as Output and its upload URL filled in.
func (j *Job) CreateOutputs() ([]*Output, error) {
	if j.Settings == nil || len(j.Settings.Outputs) == 0 {
		return nil, fmt.Errorf("job %s has no outputs in its settings", j.ID)
	}

	var outputs []*Output
	for _, rendition := range j.Settings.Outputs {
		renditionSettings := j.Settings.Clone()
		renditionSettings.Outputs = nil
		renditionSettings.Output = rendition.Clone()
		renditionSettings.Output.URL = j.Settings.Destination + "/" + rendition.Name

		outputs = append(outputs, &Output{
			ID:           uuid.New(),
			JobID:        j.ID,
			Name:         rendition.Name,
			VideoCodec:   rendition.Video.Codec,
			VideoBitrate: rendition.Video.Bitrate,
			VideoPreset:  rendition.Video.Preset,
			AudioCodec:   rendition.Audio.Codec,
			AudioBitrate: rendition.Audio.Bitrate,
			Width:        rendition.Video.Width,
			Height:       rendition.Video.Height,
			Settings:     renditionSettings,
			Status:       StatusNotStarted,
		})
	}
	return outputs, nil
}

func splitOutputURL(outputURL string) (destination, fileName string) {
	idx := strings.LastIndex(outputURL, "/")
	if idx < 0 {
		return outputURL, ""
	}
	return outputURL[:idx], outputURL[idx+1:]
}

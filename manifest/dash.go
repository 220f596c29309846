package manifest

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/sawmill-video/sawmill/jobs"
)

// Minimal MPD model. Only the parts the merge rewrites are typed; every
// other attribute and subtree rides along untouched.
type mpdDocument struct {
	XMLName xml.Name     `xml:"MPD"`
	Attrs   []xml.Attr   `xml:",any,attr"`
	Periods []*mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	Attrs          []xml.Attr        `xml:",any,attr"`
	AdaptationSets []*mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	ContentType     string            `xml:"contentType,attr,omitempty"`
	MimeType        string            `xml:"mimeType,attr,omitempty"`
	Attrs           []xml.Attr        `xml:",any,attr"`
	Children        []mpdNode         `xml:",any"`
	Representations []*mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID       string     `xml:"id,attr"`
	Attrs    []xml.Attr `xml:",any,attr"`
	BaseURL  string     `xml:"BaseURL,omitempty"`
	Children []mpdNode  `xml:",any"`
}

// mpdNode carries an element we don't interpret, subtree and all.
type mpdNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

func (a *mpdAdaptationSet) contentType() string {
	if a.ContentType != "" {
		return a.ContentType
	}
	if idx := strings.Index(a.MimeType, "/"); idx > 0 {
		return a.MimeType[:idx]
	}
	return ""
}

func (p *mpdPeriod) adaptationSet(contentType string) *mpdAdaptationSet {
	for _, set := range p.AdaptationSets {
		if set.contentType() == contentType {
			return set
		}
	}
	return nil
}

// mergeMPDs aggregates every rendition's video and audio representations
// into the first rendition's MPD, each representation anchored to its
// rendition directory via BaseURL and renumbered contiguously.
func mergeMPDs(destination string, outputs []*jobs.Output) (string, error) {
	var main *mpdDocument
	var videoReps, audioReps []*mpdRepresentation

	for i, output := range outputs {
		prefix := output.Name + "_dash/"
		doc, err := downloadMPD(destination + "/" + output.Name + "_dash/video.mpd")
		if err != nil {
			return "", err
		}
		if len(doc.Periods) == 0 {
			return "", fmt.Errorf("rendition %q MPD has no periods", output.Name)
		}
		if i == 0 {
			main = doc
		}

		if videoSet := doc.Periods[0].adaptationSet("video"); videoSet != nil {
			for _, rep := range videoSet.Representations {
				rep.BaseURL = prefix
				videoReps = append(videoReps, rep)
			}
		}
		if audioSet := doc.Periods[0].adaptationSet("audio"); audioSet != nil {
			for _, rep := range audioSet.Representations {
				rep.BaseURL = prefix
				audioReps = append(audioReps, rep)
			}
		}
	}

	renumberRepresentations(videoReps)
	renumberRepresentations(audioReps)

	if videoSet := main.Periods[0].adaptationSet("video"); videoSet != nil {
		videoSet.Representations = videoReps
	}
	if audioSet := main.Periods[0].adaptationSet("audio"); audioSet != nil {
		audioSet.Representations = audioReps
	}

	serialised, err := xml.MarshalIndent(main, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialise merged MPD: %s", err)
	}
	return xml.Header + string(serialised) + "\n", nil
}

func renumberRepresentations(reps []*mpdRepresentation) {
	for i, rep := range reps {
		rep.ID = strconv.Itoa(i)
	}
}

func downloadMPD(osURL string) (*mpdDocument, error) {
	contents, err := downloadManifest(osURL)
	if err != nil {
		return nil, fmt.Errorf("error downloading rendition MPD: %s", err)
	}
	var doc mpdDocument
	if err := xml.Unmarshal([]byte(contents), &doc); err != nil {
		return nil, fmt.Errorf("error decoding rendition MPD %q: %s", osURL, err)
	}
	return &doc, nil
}

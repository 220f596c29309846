package manifest

import (
	"fmt"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/sawmill-video/sawmill/jobs"
)

// ffmpegMasterPlaylist builds the master playlist for renditions that
// came straight out of the transcoder: one variant per output, in
// creation order, pointing at the playlist ffmpeg wrote.
func ffmpegMasterPlaylist(outputs []*jobs.Output) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, output := range outputs {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n%s/video.m3u8\n\n",
			output.VideoBitrate, output.Resolution(), output.Name)
	}
	return b.String()
}

// mergePackagedPlaylists collects the variants of every rendition's
// packager-written master playlist into one, rewriting each URI to be
// relative to the job destination. Media group ids get the rendition
// name prepended: the packager names every group the same (typically
// "audio"), and the encoder drops EXT-X-MEDIA entries whose GROUP-ID
// and NAME it has already written.
func mergePackagedPlaylists(destination string, outputs []*jobs.Output) (string, error) {
	merged := m3u8.NewMasterPlaylist()
	for _, output := range outputs {
		prefix := output.Name + "_hls/"
		playlist, err := downloadMasterPlaylist(destination + "/" + output.Name + "_hls/video.m3u8")
		if err != nil {
			return "", err
		}

		// alternatives are shared between variants, rewrite each once
		seen := map[*m3u8.Alternative]bool{}
		for _, variant := range playlist.Variants {
			if variant == nil {
				continue
			}
			for _, alternative := range variant.Alternatives {
				if alternative == nil || seen[alternative] {
					continue
				}
				seen[alternative] = true
				alternative.URI = prefix + alternative.URI
				alternative.GroupId = output.Name + "_" + alternative.GroupId
			}
		}

		for _, variant := range playlist.Variants {
			if variant == nil {
				continue
			}
			params := variant.VariantParams
			if params.Audio != "" {
				params.Audio = output.Name + "_" + params.Audio
			}
			if params.Video != "" {
				params.Video = output.Name + "_" + params.Video
			}
			if params.Subtitles != "" {
				params.Subtitles = output.Name + "_" + params.Subtitles
			}
			if params.Captions != "" && params.Captions != "NONE" {
				params.Captions = output.Name + "_" + params.Captions
			}
			merged.Append(prefix+variant.URI, variant.Chunklist, params)
		}
	}
	return merged.String(), nil
}

func downloadMasterPlaylist(osURL string) (*m3u8.MasterPlaylist, error) {
	contents, err := downloadManifest(osURL)
	if err != nil {
		return nil, fmt.Errorf("error downloading rendition playlist: %s", err)
	}
	playlist, playlistType, err := m3u8.DecodeFrom(strings.NewReader(contents), true)
	if err != nil {
		return nil, fmt.Errorf("error decoding rendition playlist %q: %s", osURL, err)
	}
	if playlistType != m3u8.MASTER {
		return nil, fmt.Errorf("rendition playlist %q is not a master playlist", osURL)
	}
	masterPlaylist, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok || masterPlaylist == nil {
		return nil, fmt.Errorf("failed to parse %q as a master playlist", osURL)
	}
	return masterPlaylist, nil
}

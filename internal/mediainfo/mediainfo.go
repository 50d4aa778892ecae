// Package mediainfo provides HDR and Dolby Vision detection using MediaInfo.
package mediainfo

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/proc"
)

// VideoTrack contains video track information from MediaInfo.
type VideoTrack struct {
	Format                  string `json:"Format"`
	Width                   string `json:"Width"`
	Height                  string `json:"Height"`
	Duration                string `json:"Duration"`
	BitDepth                string `json:"BitDepth"`
	ColorSpace              string `json:"ColorSpace"`
	ChromaSubsampling       string `json:"ChromaSubsampling"`
	ColourRange             string `json:"colour_range"`
	ColourPrimaries         string `json:"colour_primaries"`
	TransferCharacteristics string `json:"transfer_characteristics"`
	MatrixCoefficients      string `json:"matrix_coefficients"`
	HDRFormat               string `json:"HDR_Format"`
	HDRFormatProfile        string `json:"HDR_Format_Profile"`
	HDRFormatCompatibility  string `json:"HDR_Format_Compatibility"`
}

// AudioTrack contains audio track information from MediaInfo.
type AudioTrack struct {
	Format       string `json:"Format"`
	Channels     string `json:"Channels"`
	SamplingRate string `json:"SamplingRate"`
	BitRate      string `json:"BitRate"`
}

// Track represents a MediaInfo track with type information.
type Track struct {
	Type  string `json:"@type"`
	Video VideoTrack
	Audio AudioTrack
}

// UnmarshalJSON implements custom JSON unmarshaling for Track.
func (t *Track) UnmarshalJSON(data []byte) error {
	var typeOnly struct {
		Type string `json:"@type"`
	}
	if err := json.Unmarshal(data, &typeOnly); err != nil {
		return err
	}
	t.Type = typeOnly.Type

	switch t.Type {
	case "Video":
		return json.Unmarshal(data, &t.Video)
	case "Audio":
		return json.Unmarshal(data, &t.Audio)
	}
	return nil
}

// Media contains the track array.
type Media struct {
	Track []Track `json:"track"`
}

// Response is the root MediaInfo response structure.
type Response struct {
	Media Media `json:"media"`
}

// HDRFormat classifies the dynamic-range format of a source.
type HDRFormat int

const (
	// FormatSDR indicates standard dynamic range.
	FormatSDR HDRFormat = iota
	// FormatHDR10 indicates static-metadata HDR.
	FormatHDR10
	// FormatHDR10Plus indicates dynamic-metadata HDR10+.
	FormatHDR10Plus
	// FormatDolbyVision indicates a Dolby Vision configuration record is present.
	FormatDolbyVision
)

// String returns the format name.
func (f HDRFormat) String() string {
	switch f {
	case FormatHDR10:
		return "HDR10"
	case FormatHDR10Plus:
		return "HDR10+"
	case FormatDolbyVision:
		return "Dolby Vision"
	default:
		return "SDR"
	}
}

// HDRInfo contains HDR detection results.
type HDRInfo struct {
	Format                  HDRFormat
	DVProfile               uint8 // Dolby Vision profile number, 0 when absent
	ColourPrimaries         string
	TransferCharacteristics string
	MatrixCoefficients      string
	BitDepth                *uint8
}

// IsHDR reports whether the content carries any HDR format.
func (h HDRInfo) IsHDR() bool {
	return h.Format != FormatSDR
}

// IsDolbyVision reports whether a DV configuration record was found.
func (h HDRInfo) IsDolbyVision() bool {
	return h.Format == FormatDolbyVision
}

// Reader runs MediaInfo invocations.
type Reader struct {
	runner *proc.Runner
}

// NewReader creates a Reader using the given process runner.
func NewReader(runner *proc.Runner) *Reader {
	return &Reader{runner: runner}
}

// Read runs MediaInfo and returns parsed output.
func (r *Reader) Read(ctx context.Context, inputPath string) (*Response, error) {
	out, _, err := r.runner.RunCollect(ctx, proc.Cmd{
		Tool: "mediainfo",
		Args: []string{"--Output=JSON", inputPath},
	})
	if err != nil {
		return nil, err
	}
	return ParseOutput(out)
}

// ParseOutput parses MediaInfo JSON output into the Response structure.
func ParseOutput(data []byte) (*Response, error) {
	var result Response
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.NewParseError("failed to parse mediainfo output", err)
	}
	return &result, nil
}

// DetectHDR detects the HDR format from MediaInfo data. A Dolby Vision
// configuration record takes precedence over the base-layer format.
func DetectHDR(info *Response) HDRInfo {
	var videoTrack *VideoTrack
	for i := range info.Media.Track {
		if info.Media.Track[i].Type == "Video" {
			videoTrack = &info.Media.Track[i].Video
			break
		}
	}

	if videoTrack == nil {
		return HDRInfo{Format: FormatSDR}
	}

	var bitDepth *uint8
	if videoTrack.BitDepth != "" {
		if bd, err := strconv.ParseUint(videoTrack.BitDepth, 10, 8); err == nil {
			v := uint8(bd)
			bitDepth = &v
		}
	}

	result := HDRInfo{
		Format:                  FormatSDR,
		ColourPrimaries:         videoTrack.ColourPrimaries,
		TransferCharacteristics: videoTrack.TransferCharacteristics,
		MatrixCoefficients:      videoTrack.MatrixCoefficients,
		BitDepth:                bitDepth,
	}

	switch {
	case containsAny(videoTrack.HDRFormat, "Dolby Vision"):
		result.Format = FormatDolbyVision
		result.DVProfile = parseDVProfile(videoTrack.HDRFormatProfile)
	case containsAny(videoTrack.HDRFormat, "HDR10+", "SMPTE ST 2094"):
		result.Format = FormatHDR10Plus
	case containsAny(videoTrack.HDRFormat, "HDR10", "SMPTE ST 2086"):
		result.Format = FormatHDR10
	case detectHDRFromMetadata(videoTrack.ColourPrimaries, videoTrack.TransferCharacteristics, videoTrack.MatrixCoefficients):
		result.Format = FormatHDR10
	}

	return result
}

// parseDVProfile extracts the profile number from a MediaInfo DV profile
// string such as "dvhe.07.06" or "08.1".
func parseDVProfile(s string) uint8 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	// Strip a codec prefix like "dvhe." or "dvav."
	if idx := strings.IndexByte(s, '.'); idx > 0 {
		if _, err := strconv.Atoi(s[:idx]); err != nil {
			s = s[idx+1:]
		}
	}
	// Keep only the leading numeric component.
	if idx := strings.IndexByte(s, '.'); idx > 0 {
		s = s[:idx]
	}

	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

// detectHDRFromMetadata determines HDR from color metadata when no
// explicit HDR_Format field is present.
func detectHDRFromMetadata(primaries, transfer, matrix string) bool {
	if containsAny(primaries, "BT.2020", "BT.2100") {
		return true
	}
	if containsAny(transfer, "PQ", "HLG", "SMPTE 2084") {
		return true
	}
	if containsAny(matrix, "BT.2020") {
		return true
	}
	return false
}

// containsAny checks if s contains any of the substrings, case-insensitively.
func containsAny(s string, substrs ...string) bool {
	sLower := strings.ToLower(s)
	for _, substr := range substrs {
		if strings.Contains(sLower, strings.ToLower(substr)) {
			return true
		}
	}
	return false
}

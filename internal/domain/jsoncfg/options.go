package jsoncfg

import (
	"fmt"
	"regexp"
	"strings"
)

// PipelineOptions is the configuration surface consumed by a batch run. It is
// decoded from the environment, an optional YAML overlay and API requests.
type PipelineOptions struct {
	Count                     int      `json:"count" yaml:"count"`
	AspectRatios              []string `json:"aspect_ratios" yaml:"aspect_ratios"`
	RemoveBg                  bool     `json:"remove_bg" yaml:"remove_bg"`
	RemoveBgSize              string   `json:"remove_bg_size" yaml:"remove_bg_size"`
	ImageConvert              bool     `json:"image_convert" yaml:"image_convert"`
	ConvertToJpg              bool     `json:"convert_to_jpg" yaml:"convert_to_jpg"`
	TrimTransparentBackground bool     `json:"trim_transparent_background" yaml:"trim_transparent_background"`
	KeywordRandom             bool     `json:"keyword_random" yaml:"keyword_random"`
	PollingTimeoutMinutes     int      `json:"polling_timeout_minutes" yaml:"polling_timeout_minutes"`
	ProcessMode               string   `json:"process_mode" yaml:"process_mode"`
	JpgBackground             string   `json:"jpg_background" yaml:"jpg_background"`
	JpgQuality                int      `json:"jpg_quality" yaml:"jpg_quality"`
	PngQuality                int      `json:"png_quality" yaml:"png_quality"`
	RunQualityCheck           bool     `json:"run_quality_check" yaml:"run_quality_check"`
	RunMetadataGen            bool     `json:"run_metadata_gen" yaml:"run_metadata_gen"`
	ProviderVersionTag        string   `json:"provider_version_tag" yaml:"provider_version_tag"`
	PromptTemplate            string   `json:"prompt_template" yaml:"prompt_template"`
}

const (
	// DefaultCount is the number of work items in a batch when none is requested.
	DefaultCount = 30
	// MaxCount caps a single batch.
	MaxCount = 500
	// DefaultAspectRatio is used when no rotation is configured.
	DefaultAspectRatio = "1:1"
	// DefaultPollingTimeoutMinutes bounds how long a single job is polled.
	DefaultPollingTimeoutMinutes = 10
	// DefaultProcessMode is the cheapest provider queue.
	DefaultProcessMode = "relax"
	// DefaultJpgBackground is the flatten color for opaque output.
	DefaultJpgBackground = "white"
	// DefaultQuality applies to both encoders.
	DefaultQuality = 90
	// DefaultRemoveBgSize lets the background removal service pick a resolution.
	DefaultRemoveBgSize = "auto"
)

var (
	aspectRatioPattern = regexp.MustCompile(`^[1-9][0-9]*:[1-9][0-9]*$`)

	allowedProcessModes = map[string]struct{}{
		"relax": {},
		"fast":  {},
		"turbo": {},
	}

	allowedJpgBackgrounds = map[string]struct{}{
		"white": {},
		"black": {},
	}
)

// Normalize applies defaults and trims user supplied values.
func (o *PipelineOptions) Normalize() {
	if o == nil {
		return
	}
	if o.Count <= 0 {
		o.Count = DefaultCount
	}
	ratios := make([]string, 0, len(o.AspectRatios))
	for _, r := range o.AspectRatios {
		r = strings.TrimSpace(r)
		if r != "" {
			ratios = append(ratios, r)
		}
	}
	if len(ratios) == 0 {
		ratios = []string{DefaultAspectRatio}
	}
	o.AspectRatios = ratios
	if o.PollingTimeoutMinutes <= 0 {
		o.PollingTimeoutMinutes = DefaultPollingTimeoutMinutes
	}
	o.ProcessMode = strings.ToLower(strings.TrimSpace(o.ProcessMode))
	if o.ProcessMode == "" {
		o.ProcessMode = DefaultProcessMode
	}
	o.JpgBackground = strings.ToLower(strings.TrimSpace(o.JpgBackground))
	if o.JpgBackground == "" {
		o.JpgBackground = DefaultJpgBackground
	}
	if o.JpgQuality == 0 {
		o.JpgQuality = DefaultQuality
	}
	if o.PngQuality == 0 {
		o.PngQuality = DefaultQuality
	}
	if strings.TrimSpace(o.RemoveBgSize) == "" {
		o.RemoveBgSize = DefaultRemoveBgSize
	}
	o.ProviderVersionTag = strings.TrimSpace(o.ProviderVersionTag)
}

// Validate ensures the options satisfy the contract before a batch starts.
func (o PipelineOptions) Validate() error {
	if o.Count < 1 || o.Count > MaxCount {
		return fmt.Errorf("count must be between 1 and %d", MaxCount)
	}
	if len(o.AspectRatios) == 0 {
		return fmt.Errorf("aspect_ratios must not be empty")
	}
	for _, r := range o.AspectRatios {
		if !aspectRatioPattern.MatchString(r) {
			return fmt.Errorf("aspect_ratios: %q is not of the form W:H", r)
		}
	}
	if _, ok := allowedProcessModes[o.ProcessMode]; !ok {
		return fmt.Errorf("process_mode must be one of relax, fast, turbo")
	}
	if _, ok := allowedJpgBackgrounds[o.JpgBackground]; !ok {
		return fmt.Errorf("jpg_background must be white or black")
	}
	if o.JpgQuality < 1 || o.JpgQuality > 100 {
		return fmt.Errorf("jpg_quality must be between 1 and 100")
	}
	if o.PngQuality < 1 || o.PngQuality > 100 {
		return fmt.Errorf("png_quality must be between 1 and 100")
	}
	if o.PollingTimeoutMinutes < 1 {
		return fmt.Errorf("polling_timeout_minutes must be positive")
	}
	return nil
}

// OutputExtension returns the file extension produced by the final encode.
func (o PipelineOptions) OutputExtension() string {
	if o.ConvertToJpg {
		return ".jpg"
	}
	return ".png"
}

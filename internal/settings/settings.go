// Package settings holds the tool configuration: built-in defaults, an
// admin-edited defaults layer and per-user overrides, merged field by field.
package settings

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ThemeLight   = "light"
	ThemeDark    = "dark"
	DefaultTheme = ThemeLight
)

type SceneDescriptions struct {
	Studio string `json:"studio"`
	Beach  string `json:"beach"`
	City   string `json:"city"`
	Forest string `json:"forest"`
}

type LookCreator struct {
	SystemPrompt                        string            `json:"systemPrompt"`
	SceneDescriptions                   SceneDescriptions `json:"sceneDescriptions"`
	SimpleLayeringInstruction           string            `json:"simpleLayeringInstruction"`
	AdvancedLayeringInstructionTemplate string            `json:"advancedLayeringInstructionTemplate"`
}

type PromptTool struct {
	SystemPrompt string `json:"systemPrompt"`
}

type VideoCreator struct {
	Model       string `json:"model"`
	Resolution  string `json:"resolution"`
	AspectRatio string `json:"aspectRatio"`
}

type ToolSettings struct {
	LookCreator     LookCreator  `json:"lookCreator"`
	Copywriter      PromptTool   `json:"copywriter"`
	FinishingStudio PromptTool   `json:"finishingStudio"`
	ModelManager    PromptTool   `json:"modelManager"`
	VideoCreator    VideoCreator `json:"videoCreator"`
}

// Defaults returns the built-in tool settings. videoModel seeds the video section.
func Defaults(videoModel string) ToolSettings {
	return ToolSettings{
		LookCreator: LookCreator{
			SystemPrompt: "Create one hyper-realistic fashion photograph. The first image is the model; dress the model in every following product image " +
				"without altering the products. Pose: {pose_instruction}. Scene and lighting: {scene_prompt}. Layering: {layering_instruction}.",
			SceneDescriptions: SceneDescriptions{
				Studio: "A professional studio with a seamless light grey background and soft, even lighting.",
				Beach:  "A sunny beach at golden hour with clean sand and gentle waves.",
				City:   "A modern street corner in a fashion district with bright, slightly diffused daylight.",
				Forest: "A dense forest with sunbeams filtering through the canopy onto mossy ground.",
			},
			SimpleLayeringInstruction:           "Layer the products from bottom to top in the order they were provided.",
			AdvancedLayeringInstructionTemplate: "Layer the products according to this instruction: {custom_instruction}",
		},
		Copywriter: PromptTool{
			SystemPrompt: "You write e-commerce copy for a luxury fashion retailer. From the product attributes produce a product description, " +
				"a size and fit note and an editor's styling advice. Reply with a single JSON object.",
		},
		FinishingStudio: PromptTool{
			SystemPrompt: "Edit the primary image exactly as instructed. Extra images are references only. Keep aspect ratio and realism; change nothing else.",
		},
		ModelManager: PromptTool{
			SystemPrompt: "Full body studio photograph of a fashion model: {model_details}. Plain light grey background, soft even light, neutral expression.",
		},
		VideoCreator: VideoCreator{
			Model:       videoModel,
			Resolution:  "720p",
			AspectRatio: "16:9",
		},
	}
}

// Overrides mirrors ToolSettings with optional fields; nil means "use the default".
type Overrides struct {
	LookCreator     *LookCreatorOverrides  `json:"lookCreator,omitempty"`
	Copywriter      *PromptToolOverrides   `json:"copywriter,omitempty"`
	FinishingStudio *PromptToolOverrides   `json:"finishingStudio,omitempty"`
	ModelManager    *PromptToolOverrides   `json:"modelManager,omitempty"`
	VideoCreator    *VideoCreatorOverrides `json:"videoCreator,omitempty"`
}

type LookCreatorOverrides struct {
	SystemPrompt                        *string                     `json:"systemPrompt,omitempty"`
	SceneDescriptions                   *SceneDescriptionsOverrides `json:"sceneDescriptions,omitempty"`
	SimpleLayeringInstruction           *string                     `json:"simpleLayeringInstruction,omitempty"`
	AdvancedLayeringInstructionTemplate *string                     `json:"advancedLayeringInstructionTemplate,omitempty"`
}

type SceneDescriptionsOverrides struct {
	Studio *string `json:"studio,omitempty"`
	Beach  *string `json:"beach,omitempty"`
	City   *string `json:"city,omitempty"`
	Forest *string `json:"forest,omitempty"`
}

type PromptToolOverrides struct {
	SystemPrompt *string `json:"systemPrompt,omitempty"`
}

type VideoCreatorOverrides struct {
	Model       *string `json:"model,omitempty"`
	Resolution  *string `json:"resolution,omitempty"`
	AspectRatio *string `json:"aspectRatio,omitempty"`
}

// Merge applies o on top of base and returns the result; base is not modified.
func Merge(base ToolSettings, o *Overrides) ToolSettings {
	out := base
	if o == nil {
		return out
	}
	if lc := o.LookCreator; lc != nil {
		set(&out.LookCreator.SystemPrompt, lc.SystemPrompt)
		set(&out.LookCreator.SimpleLayeringInstruction, lc.SimpleLayeringInstruction)
		set(&out.LookCreator.AdvancedLayeringInstructionTemplate, lc.AdvancedLayeringInstructionTemplate)
		if sd := lc.SceneDescriptions; sd != nil {
			set(&out.LookCreator.SceneDescriptions.Studio, sd.Studio)
			set(&out.LookCreator.SceneDescriptions.Beach, sd.Beach)
			set(&out.LookCreator.SceneDescriptions.City, sd.City)
			set(&out.LookCreator.SceneDescriptions.Forest, sd.Forest)
		}
	}
	mergePrompt(&out.Copywriter, o.Copywriter)
	mergePrompt(&out.FinishingStudio, o.FinishingStudio)
	mergePrompt(&out.ModelManager, o.ModelManager)
	if vc := o.VideoCreator; vc != nil {
		set(&out.VideoCreator.Model, vc.Model)
		set(&out.VideoCreator.Resolution, vc.Resolution)
		set(&out.VideoCreator.AspectRatio, vc.AspectRatio)
	}
	return out
}

// Resolve layers overrides over the built-in defaults in order; later layers
// win. Nil layers are skipped.
func Resolve(videoModel string, layers ...*Overrides) ToolSettings {
	out := Defaults(videoModel)
	for _, o := range layers {
		out = Merge(out, o)
	}
	return out
}

func mergePrompt(dst *PromptTool, o *PromptToolOverrides) {
	if o != nil {
		set(&dst.SystemPrompt, o.SystemPrompt)
	}
}

func set(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Validate rejects blank overrides and video defaults outside the supported set.
func (o *Overrides) Validate() error {
	if o == nil {
		return nil
	}
	type field struct {
		name string
		v    *string
	}
	var fields []field
	add := func(name string, v *string) {
		fields = append(fields, field{name, v})
	}
	if lc := o.LookCreator; lc != nil {
		add("lookCreator.systemPrompt", lc.SystemPrompt)
		add("lookCreator.simpleLayeringInstruction", lc.SimpleLayeringInstruction)
		add("lookCreator.advancedLayeringInstructionTemplate", lc.AdvancedLayeringInstructionTemplate)
		if sd := lc.SceneDescriptions; sd != nil {
			add("lookCreator.sceneDescriptions.studio", sd.Studio)
			add("lookCreator.sceneDescriptions.beach", sd.Beach)
			add("lookCreator.sceneDescriptions.city", sd.City)
			add("lookCreator.sceneDescriptions.forest", sd.Forest)
		}
	}
	if o.Copywriter != nil {
		add("copywriter.systemPrompt", o.Copywriter.SystemPrompt)
	}
	if o.FinishingStudio != nil {
		add("finishingStudio.systemPrompt", o.FinishingStudio.SystemPrompt)
	}
	if o.ModelManager != nil {
		add("modelManager.systemPrompt", o.ModelManager.SystemPrompt)
	}
	if vc := o.VideoCreator; vc != nil {
		add("videoCreator.model", vc.Model)
		if vc.Resolution != nil && !ValidResolution(*vc.Resolution) {
			return fmt.Errorf("videoCreator.resolution must be 720p or 1080p")
		}
		if vc.AspectRatio != nil && !ValidAspectRatio(*vc.AspectRatio) {
			return fmt.Errorf("videoCreator.aspectRatio must be 16:9 or 9:16")
		}
	}
	for _, f := range fields {
		if f.v != nil && strings.TrimSpace(*f.v) == "" {
			return fmt.Errorf("%s cannot be empty", f.name)
		}
	}
	return nil
}

func ValidResolution(v string) bool  { return v == "720p" || v == "1080p" }
func ValidAspectRatio(v string) bool { return v == "16:9" || v == "9:16" }

func ValidTheme(v string) bool { return v == ThemeLight || v == ThemeDark }

// DecodeOverrides parses stored overrides; empty input yields nil.
func DecodeOverrides(raw []byte) (*Overrides, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var o Overrides
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode tool overrides: %w", err)
	}
	return &o, nil
}

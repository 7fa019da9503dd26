package domain

// Intent kinds.
const (
	KindCarousel = "carousel"
	KindImage    = "image"
	KindVideo    = "video"
	KindText     = "text"
)

// Supported aspect ratios.
const (
	Ratio1x1  = "1:1"
	Ratio9x16 = "9:16"
	Ratio16x9 = "16:9"
	Ratio3x4  = "3:4"
)

// Quality levels.
const (
	QualityFast = "fast"
	QualityHigh = "high"
)

// Intent is the user-declared description of what content to generate. It is
// immutable once submitted; the planner works on a copy and applies defaults
// only to fields the caller left unset (nil pointers and empty strings).
type Intent struct {
	Kind           string   `json:"kind"                     validate:"required,oneof=carousel image video text" example:"carousel"`
	BrandID        string   `json:"brandId"                  validate:"required,max=64" example:"brand_42"`
	Language       string   `json:"language,omitempty"       validate:"omitempty,bcp47_language_tag" example:"fr"`
	Audience       string   `json:"audience,omitempty"       validate:"max=200"`
	Goal           string   `json:"goal,omitempty"           validate:"omitempty,oneof=awareness engagement conversion traffic leads"`
	Slides         *int     `json:"slides,omitempty"         validate:"omitempty,min=1,max=20" example:"5"`
	Ratio          string   `json:"ratio,omitempty"          validate:"omitempty,oneof=1:1 9:16 16:9 3:4" example:"9:16"`
	TemplateID     string   `json:"templateId,omitempty"     validate:"max=64"`
	CopyBrief      string   `json:"copyBrief,omitempty"      validate:"max=4000"`
	CTA            string   `json:"cta,omitempty"            validate:"max=200"`
	PaletteLock    *bool    `json:"paletteLock,omitempty"`
	TypographyLock *bool    `json:"typographyLock,omitempty"`
	AssetsRefs     []string `json:"assetsRefs,omitempty"     validate:"max=20,dive,max=2048"`
	Quality        string   `json:"quality,omitempty"        validate:"omitempty,oneof=fast high"`
	Campaign       string   `json:"campaign,omitempty"       validate:"max=120"`
	DurationS      *int     `json:"durationS,omitempty"      validate:"omitempty,min=1,max=120"`
	Publish        bool     `json:"publish,omitempty"`
}

// Clone returns a deep copy so defaults never mutate the caller's Intent.
func (in Intent) Clone() Intent {
	out := in
	if in.Slides != nil {
		v := *in.Slides
		out.Slides = &v
	}
	if in.PaletteLock != nil {
		v := *in.PaletteLock
		out.PaletteLock = &v
	}
	if in.TypographyLock != nil {
		v := *in.TypographyLock
		out.TypographyLock = &v
	}
	if in.DurationS != nil {
		v := *in.DurationS
		out.DurationS = &v
	}
	if in.AssetsRefs != nil {
		out.AssetsRefs = append([]string(nil), in.AssetsRefs...)
	}
	return out
}

// SlideCount returns the slide count or 0 when unset.
func (in Intent) SlideCount() int {
	if in.Slides == nil {
		return 0
	}
	return *in.Slides
}

// Modality maps an Intent kind to the render modality.
func (in Intent) Modality() string {
	switch in.Kind {
	case KindVideo:
		return "video"
	case KindText:
		return "text"
	default:
		return "image"
	}
}

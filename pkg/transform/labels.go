// Copyright 2024-2026 Aiku AI

package transform

// Labels are the words used in text placeholders for content that cannot be
// carried across natively.
type Labels struct {
	Image   string `yaml:"image"`
	Video   string `yaml:"video"`
	File    string `yaml:"file"`
	Voice   string `yaml:"voice"`
	Forward string `yaml:"forward"`
	Sticker string `yaml:"sticker"`
	Emoji   string `yaml:"emoji"`
	Face    string `yaml:"face"`
	Card    string `yaml:"card"`
	Reply   string `yaml:"reply"`
}

// DefaultLabels returns the English labels.
func DefaultLabels() Labels {
	return Labels{
		Image:   "Image",
		Video:   "Video",
		File:    "File",
		Voice:   "Voice",
		Forward: "Forwarded message",
		Sticker: "Sticker",
		Emoji:   "Emoji",
		Face:    "Face",
		Card:    "Card",
		Reply:   "Reply",
	}
}

// WithDefaults fills empty labels from DefaultLabels.
func (l Labels) WithDefaults() Labels {
	d := DefaultLabels()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&l.Image, d.Image)
	fill(&l.Video, d.Video)
	fill(&l.File, d.File)
	fill(&l.Voice, d.Voice)
	fill(&l.Forward, d.Forward)
	fill(&l.Sticker, d.Sticker)
	fill(&l.Emoji, d.Emoji)
	fill(&l.Face, d.Face)
	fill(&l.Card, d.Card)
	fill(&l.Reply, d.Reply)
	return l
}

// placeholder renders "[label]" or "[label - detail]".
func placeholder(label, detail string) string {
	if detail == "" {
		return "[" + label + "]"
	}
	return "[" + label + " - " + detail + "]"
}

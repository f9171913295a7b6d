package instruments

import (
	"context"
	"strings"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/registry"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".heic"}

// HasImageAttachment reports whether any attachment looks like an image:
// an image file extension, or a plain https URL (the conservative
// fallback the original routing heuristic uses for attachments that
// don't carry an extension, e.g. signed S3 links).
func HasImageAttachment(attachments []string) bool {
	for _, a := range attachments {
		lower := strings.ToLower(a)
		for _, ext := range imageExtensions {
			if strings.HasSuffix(lower, ext) {
				return true
			}
		}
		if strings.HasPrefix(lower, "https://") {
			return true
		}
	}
	return false
}

// Vision analyzes image attachments against the query.
type Vision struct {
	vision VisionTool
}

func NewVision(reg *registry.Registry) (*Vision, error) {
	resolved, err := reg.Resolve([]string{CapReasoning, CapVision}, nil)
	if err != nil {
		return nil, core.NewFrameworkError("NewVision", "instrument", err)
	}
	tool, ok := resolveRequired[VisionTool](resolved, CapVision)
	if !ok {
		return nil, core.NewFrameworkError("NewVision", "instrument", core.ErrCapabilityUnresolved)
	}
	return &Vision{vision: tool}, nil
}

func (v *Vision) Name() string                   { return "vision" }
func (v *Vision) MaxIterations() int             { return 3 }
func (v *Vision) RequiredCapabilities() []string { return []string{CapReasoning, CapVision} }
func (v *Vision) OptionalCapabilities() []string { return nil }

func (v *Vision) Execute(ctx context.Context, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	if len(taskContext.Attachments) == 0 {
		return domain.InstrumentResult{
			Outcome:    domain.OutcomeInconclusive,
			Findings:   []domain.Finding{{Content: "no image attachments provided", Confidence: 0}},
			Summary:    "nothing to analyze",
			Confidence: 0,
			Iterations: 1,
		}, nil
	}

	var findings []domain.Finding
	var sources []string
	for i, attachment := range taskContext.Attachments {
		if i >= v.MaxIterations() {
			break
		}
		analysis, err := v.vision.AnalyzeImage(ctx, attachment, query)
		if err != nil {
			findings = append(findings, domain.Finding{Content: "vision tool failed: " + err.Error(), Source: attachment, Confidence: 0})
			continue
		}
		findings = append(findings, domain.Finding{Content: analysis, Source: attachment, Confidence: 0.75})
		sources = append(sources, attachment)
	}

	if len(sources) == 0 {
		return domain.InstrumentResult{
			Outcome:    domain.OutcomeInconclusive,
			Findings:   findings,
			Summary:    "unable to analyze any attachment",
			Confidence: 0,
			Iterations: len(findings),
		}, nil
	}

	summary := findings[len(findings)-1].Content
	return domain.InstrumentResult{
		Outcome:          domain.OutcomeComplete,
		Findings:         findings,
		Summary:          summary,
		Confidence:       0.75,
		Iterations:       len(findings),
		SourcesConsulted: sources,
	}, nil
}

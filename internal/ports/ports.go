// Package ports holds the narrow screen and input contracts the wizard and
// calendar drive. *perception.Perceiver and *input.Injector satisfy them.
package ports

import (
	"context"

	"github.com/hackgods/consul-visit-booker/internal/perception"
)

type Perception interface {
	LocateTemplate(ctx context.Context, q perception.TemplateQuery, probe perception.Probe) (perception.MatchResult, error)
	LocateText(ctx context.Context, query string, scope perception.Region, probe perception.Probe) (perception.MatchResult, error)
	LocateTextAny(ctx context.Context, queries []string, scope perception.Region, probe perception.Probe) (perception.MatchResult, string, error)
	ClassifyCheckbox(ctx context.Context, scope perception.Region, tpl perception.CheckboxTemplates, confidence float64) (perception.CheckState, perception.MatchResult, error)
	ReadText(ctx context.Context, scope perception.Region) ([]perception.Word, error)
	FindMarkers(ctx context.Context, scope perception.Region, spec perception.MarkerSpec) ([]perception.MatchResult, error)
	Screenshot(ctx context.Context) (string, error)
}

type Input interface {
	MoveTo(ctx context.Context, p perception.Point) error
	Click(ctx context.Context, p perception.Point) error
	TypeText(ctx context.Context, s string) error
	Paste(ctx context.Context, s string) error
	Press(ctx context.Context, key string) error
	Hotkey(ctx context.Context, keys ...string) error
	Scroll(ctx context.Context, amount int) error
}

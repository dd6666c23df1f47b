package perception

import "image"

type CheckState string

const (
	CheckNone    CheckState = "none"
	CheckEmpty   CheckState = "empty"
	CheckChecked CheckState = "checked"
)

// CheckboxTemplates names the PNGs of both checkbox states.
type CheckboxTemplates struct {
	Empty   string
	Checked string
}

// ClassifyCheckbox matches both state templates and keeps the stronger one.
func (s *TemplateStore) ClassifyCheckbox(img image.Image, tpl CheckboxTemplates, confidence float64) (CheckState, MatchResult, error) {
	empty, emptyOK, err := s.LocateTemplate(img, tpl.Empty, confidence, nil)
	if err != nil {
		return CheckNone, MatchResult{}, err
	}
	checked, checkedOK, err := s.LocateTemplate(img, tpl.Checked, confidence, nil)
	if err != nil {
		return CheckNone, MatchResult{}, err
	}

	switch {
	case checkedOK && (!emptyOK || checked.Score >= empty.Score):
		return CheckChecked, checked, nil
	case emptyOK:
		return CheckEmpty, empty, nil
	default:
		return CheckNone, MatchResult{}, nil
	}
}

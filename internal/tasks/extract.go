package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rendis/pagepilot/internal/environment"
	"github.com/rendis/pagepilot/pkg/schema"
)

func extractTextTask() Definition {
	return Definition{
		Kind:    schema.TaskExtractTextFromElement,
		Label:   "Extract text from element",
		Credits: 2,
		Inputs: []ParamSpec{
			stringParam(ParamHTML, true, ""),
			stringParam(ParamSelector, true, ""),
		},
		Outputs: []ParamSpec{
			{Name: ParamExtractedText, Type: schema.ParamString},
		},
		Executor: ExecutorFunc(extractText),
	}
}

// extractText parses the HTML offline; it does not touch the browser.
func extractText(_ context.Context, scope *environment.Scope) error {
	html := requiredInput(scope, ParamHTML)
	selector := requiredInput(scope, ParamSelector)
	if selector == "" {
		return fmt.Errorf("selector is empty")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return fmt.Errorf("element not found: %s", selector)
	}
	text := strings.TrimSpace(sel.Text())
	if text == "" {
		return fmt.Errorf("element has no text: %s", selector)
	}

	scope.SetOutput(ParamExtractedText, text)
	return nil
}

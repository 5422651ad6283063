package tasks

import (
	"context"
	"fmt"

	"github.com/rendis/pagepilot/internal/environment"
	"github.com/rendis/pagepilot/pkg/schema"
)

// Visibility options of WAIT_FOR_ELEMENT.
const (
	VisibilityVisible = "visible"
	VisibilityHidden  = "hidden"
)

func launchBrowserTask() Definition {
	return Definition{
		Kind:         schema.TaskLaunchBrowser,
		Label:        "Launch browser",
		IsEntryPoint: true,
		Credits:      1,
		Inputs: []ParamSpec{
			stringParam(ParamWebsiteURL, false, "eg: https://www.google.com"),
		},
		Outputs:  []ParamSpec{pageOutput()},
		Executor: ExecutorFunc(launchBrowser),
	}
}

// launchBrowser is the only executor that owns browser lifecycle. Installing
// the new browser closes any browser a previous phase launched.
func launchBrowser(ctx context.Context, scope *environment.Scope) error {
	launcher := scope.Launcher()
	if launcher == nil {
		return fmt.Errorf("no browser backend configured")
	}
	url := optionalInput(scope, ParamWebsiteURL)

	b, err := launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	if err := scope.SetBrowser(b); err != nil {
		return fmt.Errorf("install browser: %w", err)
	}
	scope.Log().Info("Browser started successfully")

	page, err := b.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	scope.SetPage(page)

	if url != "" {
		if err := page.Navigate(ctx, url); err != nil {
			return fmt.Errorf("open %s: %w", url, err)
		}
		scope.Log().Infof("Opened page at: %s", url)
	}

	scope.SetOutput(ParamWebPage, PageHandle)
	return nil
}

func navigateURLTask() Definition {
	return Definition{
		Kind:    schema.TaskNavigateURL,
		Label:   "Navigate Url",
		Credits: 1,
		Inputs: []ParamSpec{
			pageParam(),
			stringParam(ParamURL, true, ""),
		},
		Outputs:  []ParamSpec{pageOutput()},
		Executor: ExecutorFunc(navigateURL),
	}
}

func navigateURL(ctx context.Context, scope *environment.Scope) error {
	url := requiredInput(scope, ParamURL)
	page, err := activePage(scope)
	if err != nil {
		return err
	}
	if err := page.Navigate(ctx, url); err != nil {
		return err
	}
	scope.Log().Infof("visited %s", url)
	scope.SetOutput(ParamWebPage, PageHandle)
	return nil
}

func pageToHTMLTask() Definition {
	return Definition{
		Kind:    schema.TaskPageToHTML,
		Label:   "Get html from page",
		Credits: 1,
		Inputs:  []ParamSpec{pageParam()},
		Outputs: []ParamSpec{
			{Name: ParamHTML, Type: schema.ParamString},
			pageOutput(),
		},
		Executor: ExecutorFunc(pageToHTML),
	}
}

func pageToHTML(ctx context.Context, scope *environment.Scope) error {
	page, err := activePage(scope)
	if err != nil {
		return err
	}
	html, err := page.Content(ctx)
	if err != nil {
		return err
	}
	scope.SetOutput(ParamHTML, html)
	scope.SetOutput(ParamWebPage, PageHandle)
	return nil
}

func fillInputTask() Definition {
	return Definition{
		Kind:    schema.TaskFillInput,
		Label:   "Fill input",
		Credits: 1,
		Inputs: []ParamSpec{
			pageParam(),
			stringParam(ParamSelector, true, ""),
			stringParam(ParamValue, true, ""),
		},
		Outputs:  []ParamSpec{pageOutput()},
		Executor: ExecutorFunc(fillInput),
	}
}

func fillInput(ctx context.Context, scope *environment.Scope) error {
	selector := requiredInput(scope, ParamSelector)
	value := requiredInput(scope, ParamValue)
	page, err := activePage(scope)
	if err != nil {
		return err
	}
	if err := page.Type(ctx, selector, value); err != nil {
		return err
	}
	scope.SetOutput(ParamWebPage, PageHandle)
	return nil
}

func clickElementTask() Definition {
	return Definition{
		Kind:    schema.TaskClickElement,
		Label:   "Click Element",
		Credits: 1,
		Inputs: []ParamSpec{
			pageParam(),
			stringParam(ParamSelector, true, ""),
		},
		Outputs:  []ParamSpec{pageOutput()},
		Executor: ExecutorFunc(clickElement),
	}
}

func clickElement(ctx context.Context, scope *environment.Scope) error {
	selector := requiredInput(scope, ParamSelector)
	page, err := activePage(scope)
	if err != nil {
		return err
	}
	if err := page.Click(ctx, selector); err != nil {
		return err
	}
	scope.SetOutput(ParamWebPage, PageHandle)
	return nil
}

func waitForElementTask() Definition {
	return Definition{
		Kind:    schema.TaskWaitForElement,
		Label:   "Wait for element",
		Credits: 1,
		Inputs: []ParamSpec{
			pageParam(),
			stringParam(ParamSelector, true, ""),
			{
				Name:     ParamVisibility,
				Type:     schema.ParamSelect,
				Required: true,
				Options:  []string{VisibilityVisible, VisibilityHidden},
			},
		},
		Outputs:  []ParamSpec{pageOutput()},
		Executor: ExecutorFunc(waitForElement),
	}
}

func waitForElement(ctx context.Context, scope *environment.Scope) error {
	selector := requiredInput(scope, ParamSelector)
	visibility := requiredInput(scope, ParamVisibility)
	page, err := activePage(scope)
	if err != nil {
		return err
	}

	switch visibility {
	case VisibilityVisible:
		err = page.WaitVisible(ctx, selector)
	case VisibilityHidden:
		err = page.WaitHidden(ctx, selector)
	default:
		return fmt.Errorf("unknown visibility %q", visibility)
	}
	if err != nil {
		return err
	}
	scope.Log().Infof("Element %s became: %s", selector, visibility)
	scope.SetOutput(ParamWebPage, PageHandle)
	return nil
}

func scrollToElementTask() Definition {
	return Definition{
		Kind:    schema.TaskScrollToElement,
		Label:   "Scroll to element",
		Credits: 1,
		Inputs: []ParamSpec{
			pageParam(),
			stringParam(ParamSelector, true, ""),
		},
		Outputs:  []ParamSpec{pageOutput()},
		Executor: ExecutorFunc(scrollToElement),
	}
}

func scrollToElement(ctx context.Context, scope *environment.Scope) error {
	selector := requiredInput(scope, ParamSelector)
	page, err := activePage(scope)
	if err != nil {
		return err
	}
	if err := page.ScrollIntoView(ctx, selector); err != nil {
		return err
	}
	scope.SetOutput(ParamWebPage, PageHandle)
	return nil
}

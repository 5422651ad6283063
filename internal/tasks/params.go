package tasks

import (
	"errors"

	"github.com/rendis/pagepilot/internal/browser"
	"github.com/rendis/pagepilot/internal/environment"
	"github.com/rendis/pagepilot/pkg/schema"
)

// Parameter names shared across the builtin catalog.
const (
	ParamWebPage       = "Web page"
	ParamWebsiteURL    = "Website Url"
	ParamURL           = "URL"
	ParamHTML          = "Html"
	ParamSelector      = "Selector"
	ParamValue         = "Value"
	ParamVisibility    = "Visibility"
	ParamExtractedText = "Extracted text"
	ParamTargetURL     = "Target URL"
	ParamBody          = "Body"
	ParamCredential    = "Credential"
	ParamJSON          = "JSON"
	ParamPropertyName  = "Property name"
	ParamPropertyValue = "Property value"
	ParamUpdatedJSON   = "Update JSON"
)

// PageHandle is the value carried by BROWSER_INSTANCE outputs. The page
// itself lives in the environment; the handle only marks that one exists.
const PageHandle = "browser-page"

var errNoPage = errors.New("no active browser page; add a launch browser task upstream")

// requiredInput reads a required input. A missing value is logged and an
// empty string returned; the executor carries on and fails on the action itself.
func requiredInput(scope *environment.Scope, name string) string {
	v, err := scope.GetInput(name)
	if err != nil {
		scope.Log().Errorf("input %q is required", name)
		return ""
	}
	return v
}

// optionalInput reads an input that may be absent.
func optionalInput(scope *environment.Scope, name string) string {
	v, err := scope.GetInput(name)
	if err != nil {
		return ""
	}
	return v
}

// activePage returns the execution's page or errNoPage.
func activePage(scope *environment.Scope) (browser.Page, error) {
	page := scope.Page()
	if page == nil {
		return nil, errNoPage
	}
	return page, nil
}

func stringParam(name string, required bool, helper string) ParamSpec {
	return ParamSpec{Name: name, Type: schema.ParamString, Required: required, HelperText: helper}
}

func pageParam() ParamSpec {
	return ParamSpec{Name: ParamWebPage, Type: schema.ParamBrowserInstance, Required: true}
}

func pageOutput() ParamSpec {
	return ParamSpec{Name: ParamWebPage, Type: schema.ParamBrowserInstance}
}

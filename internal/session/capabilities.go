package session

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Capabilities is what the engine reported about itself at connect time.
type Capabilities struct {
	ChannelID  int64
	APILevel   int
	Version    string
	Prerelease bool
	UIOptions  []string
}

// HasUIOption reports whether the engine advertises a ui_attach option.
func (c Capabilities) HasUIOption(name string) bool {
	for _, opt := range c.UIOptions {
		if opt == name {
			return true
		}
	}
	return false
}

// requiredUIOptions are the ui_attach extensions the session depends on.
// Without them cursor moves arrive in a different event and the command
// line is drawn into the grid instead of reported.
var requiredUIOptions = []string{"ext_linegrid", "ext_cmdline"}

// missingUIOptions returns the required options the engine did not
// advertise. An engine that reported no options at all is not checked.
func (c Capabilities) missingUIOptions() []string {
	if len(c.UIOptions) == 0 {
		return nil
	}
	var missing []string
	for _, opt := range requiredUIOptions {
		if !c.HasUIOption(opt) {
			missing = append(missing, opt)
		}
	}
	return missing
}

// parseCapabilities reads the get-api-info result: [channel id, metadata].
// The metadata map is large and loosely typed, so it is flattened to JSON
// and queried by path.
func parseCapabilities(info []any) (Capabilities, error) {
	raw, err := json.Marshal(info)
	if err != nil {
		return Capabilities{}, fmt.Errorf("encode api info: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return Capabilities{}, fmt.Errorf("api info is not valid JSON")
	}

	doc := gjson.ParseBytes(raw)
	if !doc.Get("0").Exists() {
		return Capabilities{}, fmt.Errorf("api info has no channel id")
	}

	caps := Capabilities{
		ChannelID:  doc.Get("0").Int(),
		APILevel:   int(doc.Get("1.version.api_level").Int()),
		Prerelease: doc.Get("1.version.prerelease").Bool(),
	}
	v := doc.Get("1.version")
	if v.Exists() {
		caps.Version = fmt.Sprintf("v%d.%d.%d", v.Get("major").Int(), v.Get("minor").Int(), v.Get("patch").Int())
	}
	for _, opt := range doc.Get("1.ui_options").Array() {
		caps.UIOptions = append(caps.UIOptions, opt.String())
	}
	return caps, nil
}

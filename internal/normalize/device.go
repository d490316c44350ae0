// Listenflow - Incremental Music Listening Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenflow

package normalize

import "strings"

// Device types written to plays.device_type.
const (
	DeviceCar          = "car"
	DeviceWearable     = "wearable"
	DeviceSmartSpeaker = "smart_speaker"
	DeviceTV           = "tv"
	DeviceMobile       = "mobile"
	DeviceDesktop      = "desktop"
	DeviceWeb          = "web"
	DeviceSpotifyApp   = "spotify_app"
	DeviceAppleMusic   = "apple_music"
	DeviceUnknown      = "unknown"
)

// deviceRules are evaluated in order; the first keyword hit wins.
var deviceRules = []struct {
	device   string
	keywords []string
}{
	{DeviceCar, []string{"car", "auto", "androidauto"}},
	{DeviceWearable, []string{"watch", "wear"}},
	{DeviceSmartSpeaker, []string{"smart speaker", "smart_speaker", "alexa", "googlehome", "google home"}},
	{DeviceTV, []string{"tv", "roku", "chromecast"}},
	{DeviceMobile, []string{"mobile", "phone", "ios", "android", "iphone", "ipad"}},
	{DeviceDesktop, []string{"desktop", "mac", "windows", "linux"}},
	{DeviceWeb, []string{"web", "browser"}},
	{DeviceSpotifyApp, []string{"spotify"}},
	{DeviceAppleMusic, []string{"apple"}},
}

// InferDevice guesses a device type from free-form client hints such as
// listening_from, submission_client and origin_url. Hints are tried in the
// order given and the first one matching any rule decides.
func InferDevice(hints ...string) string {
	for _, hint := range hints {
		value := strings.ToLower(strings.TrimSpace(hint))
		if value == "" {
			continue
		}
		for _, rule := range deviceRules {
			for _, kw := range rule.keywords {
				if strings.Contains(value, kw) {
					return rule.device
				}
			}
		}
	}
	return DeviceUnknown
}

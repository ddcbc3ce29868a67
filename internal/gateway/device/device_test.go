package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkmesh/engine/pkg/types"
)

const (
	uaChromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	uaSafariIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaIPad          = "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
	uaAndroidPhone  = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Mobile Safari/537.36"
	uaAndroidTablet = "Mozilla/5.0 (Linux; Android 13; SM-X710) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	uaGooglebot     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	uaFirefoxLinux  = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
)

func TestClassify(t *testing.T) {
	c, err := NewClassifier(nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		ua   string
		want types.DeviceClass
	}{
		{"desktop chrome", uaChromeWindows, types.DeviceDesktop},
		{"iphone", uaSafariIPhone, types.DeviceMobile},
		{"ipad", uaIPad, types.DeviceTablet},
		{"android phone", uaAndroidPhone, types.DeviceMobile},
		{"android tablet", uaAndroidTablet, types.DeviceTablet},
		{"googlebot", uaGooglebot, types.DeviceBot},
		{"curl", "curl/8.4.0", types.DeviceBot},
		{"firefox on linux", uaFirefoxLinux, types.DeviceDesktop},
		{"empty", "", types.DeviceUnknown},
		{"gibberish", "something-weird", types.DeviceUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.ua))
		})
	}
}

func TestClassifyExtraBotRules(t *testing.T) {
	c, err := NewClassifier([]string{"*internalmonitor*", "~*^SiteCheck/"})
	require.NoError(t, err)

	assert.Equal(t, types.DeviceBot, c.Classify("Acme InternalMonitor/1.0"))
	assert.Equal(t, types.DeviceBot, c.Classify("sitecheck/2.3"))
	assert.Equal(t, types.DeviceDesktop, c.Classify(uaChromeWindows))

	_, err = NewClassifier([]string{"~[bad"})
	assert.Error(t, err, "invalid rules fail at startup, not per request")
}

func TestFamilies(t *testing.T) {
	c, err := NewClassifier(nil)
	require.NoError(t, err)

	tests := []struct {
		ua          string
		wantBrowser string
		wantOS      string
	}{
		{uaChromeWindows, "Chrome", "Windows"},
		{uaSafariIPhone, "Safari", "iOS"},
		{uaAndroidPhone, "Chrome", "Android"},
		{uaFirefoxLinux, "Firefox", "Linux"},
		{"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0", "Edge", "Windows"},
		{"unrecognized", "unknown", "unknown"},
	}

	for _, tt := range tests {
		browser, os := c.Families(tt.ua)
		assert.Equal(t, tt.wantBrowser, browser, tt.ua)
		assert.Equal(t, tt.wantOS, os, tt.ua)
	}
}

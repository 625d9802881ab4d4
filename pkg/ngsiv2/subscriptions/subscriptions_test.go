package subscriptions

import (
	"testing"

	"github.com/matryer/is"
)

func TestNewNotifiesOnlyRequestedAttributes(t *testing.T) {
	is := is.New(t)

	sub := New("Device", []string{"value"}, []string{"value"}, false, Target{URL: "http://quantumleap:8668/v2/notify"})

	is.Equal(sub.Subject.Condition.Attrs, []string{"value"})
	is.Equal(sub.Notification.Attrs, []string{"value"})
	is.Equal(len(sub.Notification.ExceptAttrs), 0)
	is.Equal(sub.Notification.HTTP.URL, "http://quantumleap:8668/v2/notify")
	is.Equal(sub.Status, "active")
}

func TestNewWithReverseOutputExcludesAttributes(t *testing.T) {
	is := is.New(t)

	sub := New("StreetlightGroup",
		[]string{"address", "location"},
		[]string{"intensity", "voltage"},
		true,
		Target{URL: "http://quantumleap:8668/v2/notify"})

	is.Equal(sub.Notification.ExceptAttrs, []string{"intensity", "voltage"})
	is.Equal(len(sub.Notification.Attrs), 0)
}

func TestPlatformKeySwitchesToCustomTarget(t *testing.T) {
	is := is.New(t)

	sub := New("Device", []string{"value"}, []string{"value"}, false,
		Target{URL: "https://platform.example.com/notify", PlatformKey: "secret"})

	is.Equal(sub.Notification.HTTP, (*HTTPTarget)(nil))
	is.Equal(sub.Notification.HTTPCustom.Headers["platform-key"], "secret")
}

func TestForSchemaBuildsStaticAndDynamicSubscriptions(t *testing.T) {
	is := is.New(t)

	subs := ForSchema("WeatherObserved",
		[]string{"address", "location", "refDevice"},
		[][]string{{"dateObserved", "illuminance"}},
		Target{URL: "http://quantumleap:8668/v2/notify"})

	is.Equal(len(subs), 2)

	// static subscription notifies everything except the dynamic pair
	is.Equal(subs[0].Subject.Condition.Attrs, []string{"address", "location", "refDevice"})
	is.Equal(subs[0].Notification.ExceptAttrs, []string{"dateObserved", "illuminance"})

	// the grouped pair is subscribed and notified together
	is.Equal(subs[1].Subject.Condition.Attrs, []string{"dateObserved", "illuminance"})
	is.Equal(subs[1].Notification.Attrs, []string{"dateObserved", "illuminance"})
}

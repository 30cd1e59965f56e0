package dispatch

import (
	"context"
	"testing"
)

func TestForPluginSharesPropagationFlag(t *testing.T) {
	ctx := NewContext(context.Background(), privateMessage("hi"), &fakeBot{id: "1"}, nil, nil)
	pluginA := ctx.ForPlugin("a", nil)
	pluginB := ctx.ForPlugin("b", nil)

	pluginA.StopPropagation()

	if pluginB.Propagating() {
		t.Error("StopPropagation in one plugin's context should be visible in another's copy")
	}
	if ctx.Propagating() {
		t.Error("StopPropagation should be visible on the parent context too")
	}
}

func TestForPluginSharesState(t *testing.T) {
	ctx := NewContext(context.Background(), privateMessage("hi"), &fakeBot{id: "1"}, nil, nil)
	pluginA := ctx.ForPlugin("a", nil)
	pluginA.setState("key", "value")

	pluginB := ctx.ForPlugin("b", nil)
	v, ok := pluginB.getState("key")
	if !ok || v != "value" {
		t.Errorf("getState from a sibling plugin context = (%v, %v), want (value, true)", v, ok)
	}
}

func TestForPluginScopesConfigIndependently(t *testing.T) {
	ctx := NewContext(context.Background(), privateMessage("hi"), &fakeBot{id: "1"}, nil, nil)
	pluginA := ctx.ForPlugin("a", []byte(`{"k":"a"}`))
	pluginB := ctx.ForPlugin("b", []byte(`{"k":"b"}`))

	if string(pluginA.pluginConfig) == string(pluginB.pluginConfig) {
		t.Error("each plugin's ForPlugin copy should carry its own config slice")
	}
}

package editor

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/geoacorda/internal/humastar"
	"github.com/joeblew999/geoacorda/internal/service"
)

// Events streams the changes of one map to the Datastar UI. The current
// view is sent first, then every event of the map as patched signals and
// a "map-changed" browser event.
func (h *MapHandler) Events(ctx context.Context, input *ElementInput) (*huma.StreamResponse, error) {
	m, ok := h.maps.Get(input.Element)
	if !ok {
		return nil, huma.Error404NotFound("map not found")
	}

	return humastar.Stream(func(sse humastar.SSE) {
		bus := h.maps.Bus()
		ch := bus.Subscribe()
		defer bus.Unsubscribe(ch)

		sse.Signals(viewSignals(m))
		for {
			select {
			case <-ctx.Done():
				return
			case ev, open := <-ch:
				if !open {
					return
				}
				if ev.ID != input.Element {
					continue
				}
				if ev.Action == "deleted" {
					sse.Error("Map deleted")
					return
				}
				sse.Signals(eventSignals(ev, viewSignals(m)))
				sse.DispatchCustomEvent("map-changed", map[string]any{
					"element": ev.ID,
					"action":  ev.Action,
				})
			}
		}
	}), nil
}

// eventSignals merges the event details into the view signals.
func eventSignals(ev service.Event, view map[string]any) map[string]any {
	out := view
	out["lastEvent"] = ev.Action
	for k, v := range ev.Data {
		out[k] = v
	}
	return out
}

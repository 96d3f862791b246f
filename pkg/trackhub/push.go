package trackhub

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kart-io/trackhub/pkg/errors"
)

// Push resolves a loosely typed call, e.g. from a queued snippet or a
// decoded JSON array, into the matching typed call. Arguments follow the
// classic positional shapes:
//
//	identify([id], [traits], [options], [callback])
//	group([id], [traits], [options], [callback])
//	track(event, [properties], [options], [callback])
//	page([category], [name], [properties], [options], [callback])
//	pageview(url)
//	alias(to, [from], [options], [callback])
//
// A func() argument is always the callback, a leading map for identify and
// group is traits. Methods without an envelope (ready, reset,
// setAnonymousId, debug, timeout) return a nil Result.
func (a *Analytics) Push(ctx context.Context, method string, args ...any) (*Result, error) {
	switch method {
	case "identify":
		call, err := identifyArgs(args)
		if err != nil {
			return nil, err
		}
		return a.Identify(ctx, call), nil

	case "group":
		id, traits, opts, cb, err := entityArgs(method, args)
		if err != nil {
			return nil, err
		}
		return a.Group(ctx, GroupCall{GroupID: id, Traits: traits, Options: opts, Callback: cb}), nil

	case "track":
		call, err := trackArgs(args)
		if err != nil {
			return nil, err
		}
		return a.Track(ctx, call), nil

	case "page":
		call, err := pageArgs(args)
		if err != nil {
			return nil, err
		}
		return a.Page(ctx, call), nil

	case "pageview":
		url, err := stringArg(method, "url", arg(args, 0))
		if err != nil {
			return nil, err
		}
		return a.Pageview(ctx, url), nil

	case "alias":
		call, err := aliasArgs(args)
		if err != nil {
			return nil, err
		}
		return a.Alias(ctx, call), nil

	case "ready":
		fn, ok := arg(args, 0).(func())
		if !ok {
			return nil, invalidArg(method, "callback", arg(args, 0))
		}
		a.Ready(fn)
		return nil, nil

	case "reset":
		a.Reset()
		return nil, nil

	case "setAnonymousId":
		id, err := stringArg(method, "id", arg(args, 0))
		if err != nil {
			return nil, err
		}
		a.SetAnonymousID(id)
		return nil, nil

	case "debug":
		on := true
		if v, ok := arg(args, 0).(bool); ok {
			on = v
		}
		a.Debug(on)
		return nil, nil

	case "timeout":
		d, err := durationArg(method, arg(args, 0))
		if err != nil {
			return nil, err
		}
		a.SetTimeout(d)
		return nil, nil

	default:
		return nil, errors.Newf(errors.ErrUnknownMethod, "unknown method %q", method).WithContext("method", method)
	}
}

func identifyArgs(args []any) (IdentifyCall, error) {
	id, traits, opts, cb, err := entityArgs("identify", args)
	if err != nil {
		return IdentifyCall{}, err
	}
	return IdentifyCall{UserID: id, Traits: traits, Options: opts, Callback: cb}, nil
}

// entityArgs reshuffles (id, traits, options, callback).
func entityArgs(method string, args []any) (string, map[string]any, map[string]any, func(), error) {
	id, traits, opts, fn := arg(args, 0), arg(args, 1), arg(args, 2), arg(args, 3)

	if isFunc(opts) {
		fn, opts = opts, nil
	}
	if isFunc(traits) {
		fn, opts, traits = traits, nil, nil
	}
	if isObject(id) {
		opts, traits, id = traits, id, nil
	}

	sid, err := stringArg(method, "id", id)
	if err != nil {
		return "", nil, nil, nil, err
	}
	t, err := objectArg(method, "traits", traits)
	if err != nil {
		return "", nil, nil, nil, err
	}
	o, err := objectArg(method, "options", opts)
	if err != nil {
		return "", nil, nil, nil, err
	}
	cb, err := funcArg(method, fn)
	if err != nil {
		return "", nil, nil, nil, err
	}
	return sid, t, o, cb, nil
}

func trackArgs(args []any) (TrackCall, error) {
	const method = "track"
	event, props, opts, fn := arg(args, 0), arg(args, 1), arg(args, 2), arg(args, 3)

	if isFunc(opts) {
		fn, opts = opts, nil
	}
	if isFunc(props) {
		fn, opts, props = props, nil, nil
	}

	var call TrackCall
	var err error
	if call.Event, err = stringArg(method, "event", event); err != nil {
		return call, err
	}
	if call.Properties, err = objectArg(method, "properties", props); err != nil {
		return call, err
	}
	if call.Options, err = objectArg(method, "options", opts); err != nil {
		return call, err
	}
	call.Callback, err = funcArg(method, fn)
	return call, err
}

func pageArgs(args []any) (PageCall, error) {
	const method = "page"
	category, name, props, opts, fn := arg(args, 0), arg(args, 1), arg(args, 2), arg(args, 3), arg(args, 4)

	if isFunc(opts) {
		fn, opts = opts, nil
	}
	if isFunc(props) {
		fn, opts, props = props, nil, nil
	}
	if isFunc(name) {
		fn, opts, props, name = name, nil, nil, nil
	}
	if isObject(category) {
		opts, props, name, category = name, category, nil, nil
	}
	if isObject(name) {
		opts, props, name = props, name, nil
	}
	if _, ok := category.(string); ok {
		if _, ok := name.(string); !ok {
			name, category = category, nil
		}
	}

	var call PageCall
	var err error
	if call.Category, err = stringArg(method, "category", category); err != nil {
		return call, err
	}
	if call.Name, err = stringArg(method, "name", name); err != nil {
		return call, err
	}
	if call.Properties, err = objectArg(method, "properties", props); err != nil {
		return call, err
	}
	if call.Options, err = objectArg(method, "options", opts); err != nil {
		return call, err
	}
	call.Callback, err = funcArg(method, fn)
	return call, err
}

func aliasArgs(args []any) (AliasCall, error) {
	const method = "alias"
	to, from, opts, fn := arg(args, 0), arg(args, 1), arg(args, 2), arg(args, 3)

	if isFunc(opts) {
		fn, opts = opts, nil
	}
	if isFunc(from) {
		fn, opts, from = from, nil, nil
	}
	if isObject(from) {
		opts, from = from, nil
	}

	var call AliasCall
	var err error
	if call.To, err = stringArg(method, "to", to); err != nil {
		return call, err
	}
	if call.From, err = stringArg(method, "from", from); err != nil {
		return call, err
	}
	if call.Options, err = objectArg(method, "options", opts); err != nil {
		return call, err
	}
	call.Callback, err = funcArg(method, fn)
	return call, err
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func isFunc(v any) bool {
	_, ok := v.(func())
	return ok
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// stringArg accepts strings and numbers; numbers keep their shortest
// decimal form so 42 and "42" name the same id.
func stringArg(method, name string, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return "", invalidArg(method, name, v)
	}
}

func objectArg(method, name string, v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	default:
		return nil, invalidArg(method, name, v)
	}
}

func funcArg(method string, v any) (func(), error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case func():
		return t, nil
	default:
		return nil, invalidArg(method, "callback", v)
	}
}

func durationArg(method string, v any) (time.Duration, error) {
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case int:
		return time.Duration(t) * time.Millisecond, nil
	case float64:
		return time.Duration(t * float64(time.Millisecond)), nil
	case string:
		d, err := time.ParseDuration(t)
		if err != nil {
			return 0, invalidArg(method, "timeout", v)
		}
		return d, nil
	default:
		return 0, invalidArg(method, "timeout", v)
	}
}

func invalidArg(method, name string, v any) error {
	return errors.Newf(errors.ErrInvalidArguments, "%s: unexpected %s argument of type %T", method, name, v).
		WithContext("method", method).
		WithContext("argument", name)
}

//go:build wasm

// Package main provides a WebAssembly interface to the sensor cache.
// Values are kept in the browser's localStorage, so cached readings survive
// page reloads while the device is offline.
//
// Build with: GOOS=js GOARCH=wasm go build -o sensorcache.wasm ./wasm
package main

import (
	"context"
	"syscall/js"

	"github.com/chronicle-db/sensorcache"
)

var cache *sensorcache.Cache

func main() {
	js.Global().Set("sensorcache", js.ValueOf(map[string]interface{}{
		"open":         js.FuncOf(jsOpen),
		"close":        js.FuncOf(jsClose),
		"put":          js.FuncOf(jsPut),
		"get":          js.FuncOf(jsGet),
		"list":         js.FuncOf(jsList),
		"tasks":        js.FuncOf(jsTasks),
		"deleteTask":   js.FuncOf(jsDeleteTask),
		"getMeta":      js.FuncOf(jsGetMeta),
		"putMeta":      js.FuncOf(jsPutMeta),
		"measure":      js.FuncOf(jsMeasure),
		"estimateSize": js.FuncOf(jsEstimateSize),
	}))

	// Keep the Go runtime alive
	select {}
}

// jsOpen opens the cache.
// sensorcache.open(name?: string, config?: {codec?: string, compression?: boolean}): Promise<void>
func jsOpen(this js.Value, args []js.Value) interface{} {
	cfg := sensorcache.DefaultConfig("")
	if len(args) > 0 && args[0].Type() == js.TypeString {
		cfg.Name = args[0].String()
	}
	if len(args) > 1 && args[1].Type() == js.TypeObject {
		configObj := args[1]
		if v := configObj.Get("codec"); v.Type() == js.TypeString {
			cfg.Compression.Codec = v.String()
		}
		if v := configObj.Get("compression"); v.Type() == js.TypeBoolean {
			cfg.Compression.Enabled = v.Bool()
		}
	}

	store, err := newLocalStorageBackend(cfg.Name)
	if err != nil {
		// Without localStorage every operation reports the backend as unavailable
		cfg.Disabled = true
	} else {
		cfg.StorageBackend = store
	}

	return promisify(func() (interface{}, error) {
		c, err := sensorcache.Open(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		if cache != nil {
			cache.Close()
		}
		cache = c
		return nil, nil
	})
}

// jsClose closes the cache.
// sensorcache.close(): Promise<void>
func jsClose(this js.Value, args []js.Value) interface{} {
	return promisify(func() (interface{}, error) {
		if cache == nil {
			return nil, nil
		}
		err := cache.Close()
		cache = nil
		return nil, err
	})
}

// jsPut stores a value.
// sensorcache.put(taskId: string, deviceId: string, value: string): Promise<void>
func jsPut(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return wrapError("taskId, deviceId and value are required")
	}
	taskID, deviceID, value := args[0].String(), args[1].String(), args[2].String()

	return withCache(func(c *sensorcache.Cache) (interface{}, error) {
		return nil, c.Put(context.Background(), taskID, deviceID, value)
	})
}

// jsGet reads a value.
// sensorcache.get(taskId: string, deviceId: string): Promise<string | null>
func jsGet(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return wrapError("taskId and deviceId are required")
	}
	taskID, deviceID := args[0].String(), args[1].String()

	return withCache(func(c *sensorcache.Cache) (interface{}, error) {
		value, ok, err := c.Get(context.Background(), taskID, deviceID)
		if err != nil || !ok {
			return nil, err
		}
		return value, nil
	})
}

// jsList lists the devices of a task.
// sensorcache.list(taskId: string): Promise<Array<string>>
func jsList(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return wrapError("taskId is required")
	}
	taskID := args[0].String()

	return withCache(func(c *sensorcache.Cache) (interface{}, error) {
		ids, err := c.ListDeviceIDs(context.Background(), taskID)
		if err != nil {
			return nil, err
		}
		return stringsToJS(ids), nil
	})
}

// jsTasks lists the tasks with stored data.
// sensorcache.tasks(): Promise<Array<string>>
func jsTasks(this js.Value, args []js.Value) interface{} {
	return withCache(func(c *sensorcache.Cache) (interface{}, error) {
		ids, err := c.ListTaskIDs(context.Background())
		if err != nil {
			return nil, err
		}
		return stringsToJS(ids), nil
	})
}

// jsDeleteTask removes every value of a task.
// sensorcache.deleteTask(taskId: string): Promise<void>
func jsDeleteTask(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return wrapError("taskId is required")
	}
	taskID := args[0].String()

	return withCache(func(c *sensorcache.Cache) (interface{}, error) {
		return nil, c.DeleteAllForTask(context.Background(), taskID)
	})
}

// jsGetMeta reads the metadata of a task.
// sensorcache.getMeta(taskId: string): Promise<{taskId, meta, updatedAt} | null>
func jsGetMeta(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return wrapError("taskId is required")
	}
	taskID := args[0].String()

	return withCache(func(c *sensorcache.Cache) (interface{}, error) {
		rec, err := c.GetMeta(context.Background(), taskID)
		if err != nil || rec == nil {
			return nil, err
		}
		meta := make(map[string]interface{}, len(rec.Meta))
		for k, v := range rec.Meta {
			meta[k] = v
		}
		return map[string]interface{}{
			"taskId":    rec.TaskID,
			"meta":      meta,
			"updatedAt": rec.UpdatedAt.UnixMilli(),
		}, nil
	})
}

// jsPutMeta replaces the metadata of a task.
// sensorcache.putMeta(taskId: string, meta: object): Promise<void>
func jsPutMeta(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 || args[1].Type() != js.TypeObject {
		return wrapError("taskId and meta object are required")
	}
	taskID := args[0].String()
	meta := objectToMap(args[1])

	return withCache(func(c *sensorcache.Cache) (interface{}, error) {
		return nil, c.PutMeta(context.Background(), taskID, meta)
	})
}

// jsMeasure measures compression of a sample.
// sensorcache.measure(sample?: string, iterations?: number): Promise<object>
func jsMeasure(this js.Value, args []js.Value) interface{} {
	sample := sensorcache.SampleReadings(1000)
	if len(args) > 0 && args[0].Type() == js.TypeString {
		sample = args[0].String()
	}
	iterations := 10
	if len(args) > 1 && args[1].Type() == js.TypeNumber {
		iterations = args[1].Int()
	}

	return withCache(func(c *sensorcache.Cache) (interface{}, error) {
		res, err := c.Measure(context.Background(), sample, iterations)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"originalSize":     res.OriginalSize,
			"compressedSize":   res.CompressedSize,
			"compressionRatio": res.CompressionRatio,
			"saveTimeMs":       millis(res.SaveTime.Seconds()),
			"loadTimeMs":       millis(res.LoadTime.Seconds()),
			"parseTimeMs":      millis(res.ParseTime.Seconds()),
			"plainSaveTimeMs":  millis(res.PlainSaveTime.Seconds()),
			"plainLoadTimeMs":  millis(res.PlainLoadTime.Seconds()),
			"totalSaveTimeMs":  millis(res.TotalSaveTime.Seconds()),
			"totalLoadTimeMs":  millis(res.TotalLoadTime.Seconds()),
			"iterations":       res.Iterations,
		}, nil
	})
}

// jsEstimateSize sums the stored size of every value.
// sensorcache.estimateSize(): Promise<number>
func jsEstimateSize(this js.Value, args []js.Value) interface{} {
	return withCache(func(c *sensorcache.Cache) (interface{}, error) {
		size, err := c.EstimateTotalSize(context.Background())
		if err != nil {
			return nil, err
		}
		return float64(size), nil
	})
}

func millis(seconds float64) float64 {
	return seconds * 1000
}

func withCache(fn func(c *sensorcache.Cache) (interface{}, error)) js.Value {
	return promisify(func() (interface{}, error) {
		if cache == nil {
			return nil, jsError("cache not open")
		}
		return fn(cache)
	})
}

func stringsToJS(ss []string) interface{} {
	arr := make([]interface{}, len(ss))
	for i, s := range ss {
		arr[i] = s
	}
	return arr
}

func objectToMap(obj js.Value) map[string]interface{} {
	out := make(map[string]interface{})
	keys := js.Global().Get("Object").Call("keys", obj)
	for i := 0; i < keys.Length(); i++ {
		key := keys.Index(i).String()
		out[key] = jsToGo(obj.Get(key))
	}
	return out
}

func jsToGo(v js.Value) interface{} {
	switch v.Type() {
	case js.TypeBoolean:
		return v.Bool()
	case js.TypeNumber:
		return v.Float()
	case js.TypeString:
		return v.String()
	case js.TypeObject:
		if js.Global().Get("Array").Call("isArray", v).Bool() {
			arr := make([]interface{}, v.Length())
			for i := range arr {
				arr[i] = jsToGo(v.Index(i))
			}
			return arr
		}
		return objectToMap(v)
	default:
		return nil
	}
}

func promisify(fn func() (interface{}, error)) js.Value {
	handler := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolve := args[0]
		reject := args[1]

		go func() {
			result, err := fn()
			if err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
				return
			}
			resolve.Invoke(toJS(result))
		}()

		return nil
	})

	return js.Global().Get("Promise").New(handler)
}

func toJS(v interface{}) js.Value {
	if v == nil {
		return js.Null()
	}

	switch val := v.(type) {
	case []interface{}:
		arr := js.Global().Get("Array").New(len(val))
		for i, item := range val {
			arr.SetIndex(i, toJS(item))
		}
		return arr
	case map[string]interface{}:
		obj := js.Global().Get("Object").New()
		for k, item := range val {
			obj.Set(k, toJS(item))
		}
		return obj
	default:
		// For primitives, js.ValueOf handles them
		return js.ValueOf(v)
	}
}

func wrapError(msg string) js.Value {
	return js.Global().Get("Promise").Call("reject",
		js.Global().Get("Error").New(msg))
}

type jsErrorType string

func (e jsErrorType) Error() string {
	return string(e)
}

func jsError(msg string) error {
	return jsErrorType(msg)
}

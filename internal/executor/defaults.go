package executor

import (
	"net/http"

	"github.com/dandantas/nyxmon/internal/model"
)

// RegisterDefaults registers a factory for every built-in check type.
// httpClient is called when an HTTP-based executor is first instantiated.
func RegisterDefaults(reg *Registry, httpClient func() *http.Client) {
	reg.RegisterFactory(model.CheckTypeHTTP, func() Executor { return NewHTTPExecutor(httpClient()) })
	reg.RegisterFactory(model.CheckTypeJSONHTTP, func() Executor { return NewHTTPExecutor(httpClient()) })
	reg.RegisterFactory(model.CheckTypeJSONMetrics, func() Executor { return NewJSONMetricsExecutor(httpClient()) })
	reg.RegisterFactory(model.CheckTypeDNS, func() Executor { return NewDNSExecutor(nil) })
	reg.RegisterFactory(model.CheckTypeTCP, func() Executor { return NewTCPExecutor() })
	reg.RegisterFactory(model.CheckTypeSMTP, func() Executor { return NewSMTPExecutor(nil) })
	reg.RegisterFactory(model.CheckTypeIMAP, func() Executor { return NewIMAPExecutor(nil) })
	reg.RegisterFactory(model.CheckTypeCustom, func() Executor { return NewCustomExecutor(nil) })
	reg.RegisterFactory(model.CheckTypePing, func() Executor { return NewPingExecutor(nil) })
}

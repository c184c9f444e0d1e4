// Package metrics exposes the Prometheus scrape endpoint.
package metrics

import "net/http"

// StartMetricsServer 启动Prometheus指标服务器，handler 来自 monitor 的
// 私有 registry。返回 server 供优雅关闭。
func StartMetricsServer(addr string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}

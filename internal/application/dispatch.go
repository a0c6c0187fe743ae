// Package application wires the infrastructure components into the request
// dispatch engine and owns the process lifecycle.
package application

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/none9527/llmcached/internal/domain/chat"
	"github.com/none9527/llmcached/internal/infrastructure/cache"
	"github.com/none9527/llmcached/internal/infrastructure/codec"
	"github.com/none9527/llmcached/internal/infrastructure/config"
	"github.com/none9527/llmcached/internal/infrastructure/logger"
	"github.com/none9527/llmcached/internal/infrastructure/persistence"
	"github.com/none9527/llmcached/internal/infrastructure/trim"
	"github.com/none9527/llmcached/internal/infrastructure/upstream"
	"github.com/none9527/llmcached/internal/infrastructure/worker"
)

const (
	// 信号量等待上限
	admissionTimeout = 10 * time.Second
	// 缓存命中响应的finish_reason
	finishReasonCached = "stop_from_cache"
	// 写回落库的宽限时间
	writebackTimeout = 30 * time.Second
)

// Dispatcher 请求调度引擎。命中路径与未命中路径分别投递到独立工作池,
// 全局信号量只约束上游并发。
type Dispatcher struct {
	config    *config.Config
	endpoints []chat.Endpoint
	memory    *cache.MemoryCache
	store     *persistence.Store
	writer    *persistence.Writer
	client    *upstream.Client
	trimmer   *trim.Trimmer
	flusher   *cache.IdleFlusher
	sem       *semaphore.Weighted
	hitPool   *worker.Pool
	missPool  *worker.Pool
	logger    *zap.Logger
}

// NewDispatcher 组装调度器; memory/trimmer/flusher 按配置可为nil
func NewDispatcher(
	cfg *config.Config,
	memory *cache.MemoryCache,
	store *persistence.Store,
	writer *persistence.Writer,
	client *upstream.Client,
	trimmer *trim.Trimmer,
	flusher *cache.IdleFlusher,
	hitPool, missPool *worker.Pool,
	logger *zap.Logger,
) *Dispatcher {
	endpoints := make([]chat.Endpoint, 0, len(cfg.APIEndpoints))
	for _, e := range cfg.APIEndpoints {
		endpoints = append(endpoints, chat.Endpoint{
			URL: e.URL, Weight: e.Weight, Model: e.Model, Version: e.Version,
		})
	}
	return &Dispatcher{
		config:    cfg,
		endpoints: endpoints,
		memory:    memory,
		store:     store,
		writer:    writer,
		client:    client,
		trimmer:   trimmer,
		flusher:   flusher,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		hitPool:   hitPool,
		missPool:  missPool,
		logger:    logger,
	}
}

type dispatchResult struct {
	body []byte
	err  *DispatchError
}

// Dispatch handles one chat-completion request and returns the response body
// as JSON. The hit and miss continuations run on their respective pools; the
// calling handler goroutine blocks on the result channel.
func (d *Dispatcher) Dispatch(ctx context.Context, req *chat.ChatRequest, clientHeaders http.Header) ([]byte, *DispatchError) {
	requestID := uuid.NewString()[:8]
	start := time.Now()
	log := logger.WithRequestID(d.logger, requestID)

	if d.flusher != nil {
		d.flusher.Touch()
	}

	userMsg, ok := chat.FirstUserMessage(req.Messages)
	if !ok {
		return nil, clientError("request contains no user message")
	}
	questionKey := codec.QuestionKey(userMsg.Content)

	endpoint, haveEndpoint := chat.SelectEndpoint(d.endpoints)

	// 流式请求绕过缓存
	if !req.Stream {
		blob, answerKey, found, err := d.lookup(ctx, questionKey, endpoint, haveEndpoint)
		if err != nil {
			return nil, lookupError(err)
		}
		if found {
			if answerKey != "" {
				go d.bumpHitCount(answerKey)
			}
			return d.runOnPool(ctx, d.hitPool, func() ([]byte, *DispatchError) {
				body, derr := d.serveHit(req, blob, log)
				if derr == nil {
					log.Info("缓存命中",
						zap.String("question_key", questionKey[:8]),
						zap.Duration("elapsed", time.Since(start)))
				}
				return body, derr
			})
		}
	}

	return d.runOnPool(ctx, d.missPool, func() ([]byte, *DispatchError) {
		body, derr := d.serveMiss(ctx, req, questionKey, endpoint, haveEndpoint, clientHeaders, log)
		if derr == nil {
			log.Info("请求转发完成",
				zap.String("question_key", questionKey[:8]),
				zap.Bool("stream", req.Stream),
				zap.Duration("elapsed", time.Since(start)))
		}
		return body, derr
	})
}

// runOnPool 将任务投递到指定池并等待结果
func (d *Dispatcher) runOnPool(ctx context.Context, pool *worker.Pool, task func() ([]byte, *DispatchError)) ([]byte, *DispatchError) {
	ch := make(chan dispatchResult, 1)
	posted := pool.Submit(ctx, func() {
		body, err := task()
		ch <- dispatchResult{body: body, err: err}
	})
	if !posted {
		return nil, admissionTimeoutError()
	}
	select {
	case r := <-ch:
		return r.body, r.err
	case <-ctx.Done():
		return nil, &DispatchError{Kind: KindClientError, Status: 499,
			Message: "client closed request"}
	}
}

// lookup 先查内存缓存再查数据库。返回的answerKey仅在数据库命中时非空。
func (d *Dispatcher) lookup(ctx context.Context, questionKey string, endpoint chat.Endpoint, haveEndpoint bool) ([]byte, string, bool, error) {
	if d.memory != nil {
		if blob, ok := d.memory.Get(questionKey); ok {
			return blob, "", true, nil
		}
	}

	version := d.config.CacheVersion
	if haveEndpoint {
		version = endpoint.Version
	}
	return d.store.Lookup(ctx, questionKey, version, d.config.CacheOverrideMode)
}

func (d *Dispatcher) bumpHitCount(answerKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.BumpHitCount(ctx, answerKey); err != nil {
		d.logger.Warn("更新命中计数失败",
			zap.String("answer_key", answerKey[:8]), zap.Error(err))
	}
}

// serveHit 解压缓存答案并组装响应
func (d *Dispatcher) serveHit(req *chat.ChatRequest, blob []byte, log *zap.Logger) ([]byte, *DispatchError) {
	content, err := codec.DecompressString(blob)
	if err != nil {
		log.Error("缓存数据解压失败", zap.Error(err))
		return nil, codecError(err)
	}

	resp := &chat.ChatResponse{
		ID:      uuid.NewString(),
		Object:  d.config.APIDefaults.DefaultObject,
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chat.Choice{{
			Index:        0,
			FinishReason: finishReasonCached,
			Message:      chat.Message{Role: d.config.APIDefaults.DefaultRole, Content: content},
		}},
		SystemFingerprint: d.config.APIDefaults.CacheSystemFingerprint,
	}

	body, merr := json.Marshal(resp)
	if merr != nil {
		return nil, codecError(merr)
	}
	return body, nil
}

// serveMiss 获取准入许可后转发上游, 成功则调度异步写回
func (d *Dispatcher) serveMiss(ctx context.Context, req *chat.ChatRequest, questionKey string, endpoint chat.Endpoint, haveEndpoint bool, clientHeaders http.Header, log *zap.Logger) ([]byte, *DispatchError) {
	acquireCtx, cancel := context.WithTimeout(ctx, admissionTimeout)
	err := d.sem.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		log.Warn("等待准入许可超时")
		return nil, admissionTimeoutError()
	}
	defer d.sem.Release(1)

	if !haveEndpoint {
		return nil, noEndpointError()
	}

	payload := req.Clone()
	if endpoint.Model != "" {
		payload.Model = endpoint.Model
	}
	if d.config.EnableThinking != nil {
		v := *d.config.EnableThinking
		payload.EnableThinking = &v
	}
	if d.trimmer != nil {
		payload.Messages = d.trimmer.Trim(ctx, payload.Messages)
	}

	data, merr := json.Marshal(payload)
	if merr != nil {
		return nil, codecError(merr)
	}

	headers := projectHeaders(clientHeaders, d.config.APIHeaders)
	targetURL := strings.TrimSuffix(endpoint.URL, "/") + "/v1/chat/completions"

	body, sendErr := d.client.Post(ctx, targetURL, data, headers, d.config.UseProxy)
	if sendErr != nil {
		log.Warn("上游请求失败",
			zap.String("url", targetURL), zap.Error(sendErr))
		return nil, fromUpstream(sendErr)
	}

	// 流式响应不缓存, 原样返回
	if req.Stream {
		return body, nil
	}

	resp, parseErr := upstream.ParseChatResponse(body, d.config.APIDefaults)
	if parseErr != nil {
		log.Error("上游响应解析失败", zap.Error(parseErr))
		return nil, fromUpstream(parseErr)
	}

	go d.writeback(questionKey, resp, log)

	out, merr := json.Marshal(resp)
	if merr != nil {
		return nil, codecError(merr)
	}
	return out, nil
}

// writeback compresses and persists the assistant reply off-path. Failures
// are logged only; they never affect the client response.
func (d *Dispatcher) writeback(questionKey string, resp *chat.ChatResponse, log *zap.Logger) {
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		log.Debug("响应内容为空，跳过缓存写回")
		return
	}

	compressed, err := codec.Compress([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		log.Error("压缩响应失败，跳过缓存写回", zap.Error(err))
		return
	}
	if len(compressed) > d.config.APIDefaults.CacheMaxSizeBytes {
		log.Warn("压缩后响应超过缓存上限，跳过写回",
			zap.Int("size", len(compressed)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writebackTimeout)
	defer cancel()

	if d.memory != nil {
		d.memory.Insert(questionKey, compressed)
		if d.memory.PendingCount() >= d.config.Cache.BatchWriteSize {
			items := d.memory.TakePending(d.config.Cache.BatchWriteSize)
			if len(items) > 0 {
				d.writer.BatchWrite(ctx, items)
			}
		}
		return
	}

	d.writer.WriteSingle(ctx, questionKey, compressed)
}

// Passthrough forwards a non-completion request (models, embeddings) to a
// selected endpoint and returns the upstream status, headers and body as-is.
func (d *Dispatcher) Passthrough(ctx context.Context, method, path string, body []byte, clientHeaders http.Header) (int, http.Header, []byte, *DispatchError) {
	if d.flusher != nil {
		d.flusher.Touch()
	}

	endpoint, ok := chat.SelectEndpoint(d.endpoints)
	if !ok {
		return 0, nil, nil, noEndpointError()
	}

	headers := projectHeaders(clientHeaders, d.config.APIHeaders)
	targetURL := strings.TrimSuffix(endpoint.URL, "/") + path

	status, respHeaders, respBody, err := d.client.Passthrough(ctx, method, targetURL, body, headers)
	if err != nil {
		d.logger.Warn("透传请求失败",
			zap.String("url", targetURL), zap.Error(err))
		return 0, nil, nil, fromUpstream(err)
	}
	return status, respHeaders, respBody, nil
}

// projectHeaders 投影客户端请求头: 丢弃连接管理类头部, 再叠加配置的api_headers
func projectHeaders(src http.Header, apiHeaders map[string]string) map[string]string {
	out := make(map[string]string, len(src)+len(apiHeaders))
	for name, values := range src {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "connection") ||
			strings.Contains(lower, "host") ||
			strings.Contains(lower, "content-length") {
			continue
		}
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	for k, v := range apiHeaders {
		out[k] = v
	}
	return out
}

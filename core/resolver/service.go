package resolver

import (
	"context"
	"fmt"

	"QFMBot/cache"
	"QFMBot/core/codec"
	"QFMBot/logger"
)

// Service 按优先级把查询交给第一个认领它的解析器
type Service struct {
	resolvers []Resolver
	cache     *cache.QueryCache
}

// NewService 创建解析服务，resolvers 的顺序即优先级；queryCache 可以为 nil
func NewService(queryCache *cache.QueryCache, resolvers ...Resolver) *Service {
	return &Service{resolvers: resolvers, cache: queryCache}
}

// Codecs 以相同优先级返回所有解析器的编解码器
func (s *Service) Codecs() []codec.Codec {
	out := make([]codec.Codec, len(s.resolvers))
	for i, r := range s.resolvers {
		out[i] = r
	}
	return out
}

// Resolve 解析查询。所有错误都被转换成 Failure，不会向调用方返回 error
func (s *Service) Resolve(ctx context.Context, query string, scope Scope) Result {
	if s.cache != nil {
		if track, ok := s.cache.Get(query); ok {
			logger.Debug("[Resolver] cache hit", logger.String("query", query))
			return Tracks(track)
		}
	}

	for _, r := range s.resolvers {
		if !r.CanResolve(query) {
			continue
		}
		if !r.Available() {
			logger.Warn("[Resolver] matched resolver unavailable", logger.String("resolver", r.ID()), logger.String("query", query))
			return Fail(SeverityFault, "resolver unavailable", r.ID())
		}

		result := s.invoke(ctx, r, query, scope)
		if !result.Success() {
			logger.Info("[Resolver] resolution failed",
				logger.String("resolver", r.ID()),
				logger.String("query", query),
				logger.String("severity", result.Failure.Severity.String()),
				logger.String("message", result.Failure.Message))
			return result
		}

		// 被放弃的解析不写缓存
		if result.Cacheable() && s.cache != nil && ctx.Err() == nil {
			s.cache.Set(query, result.Tracks[0])
		}
		return result
	}

	return Fail(SeveritySuspicious, "no resolver claimed query", query)
}

func (s *Service) invoke(ctx context.Context, r Resolver, query string, scope Scope) (result Result) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("[Resolver] resolver panicked", logger.String("resolver", r.ID()), logger.Any("panic", p))
			result = Fail(SeverityFault, fmt.Sprint(p), r.ID())
		}
	}()

	res, err := r.Resolve(ctx, query, scope)
	if err != nil {
		return Fail(SeverityFault, err.Error(), r.ID())
	}
	return res
}

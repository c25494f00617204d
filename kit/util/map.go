package util

import "sync"

type GenericSyncMap[K comparable, V any] struct {
	sync.Map
}

func (s *GenericSyncMap[K, V]) Range(f func(key K, value V) bool) {
	s.Map.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

func (s *GenericSyncMap[K, V]) Store(key K, value V) {
	s.Map.Store(key, value)
}

func (s *GenericSyncMap[K, V]) Delete(key K) {
	s.Map.Delete(key)
}

func (s *GenericSyncMap[K, V]) Load(key K) (V, bool) {
	value, ok := s.Map.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return value.(V), true
}

func (s *GenericSyncMap[K, V]) LoadOrStore(key K, value V) (V, bool) {
	actual, loaded := s.Map.LoadOrStore(key, value)
	return actual.(V), loaded
}

func (s *GenericSyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	value, loaded := s.Map.LoadAndDelete(key)
	if !loaded {
		var zero V
		return zero, false
	}
	return value.(V), true
}

package platform

import "github.com/resolvarr/resolvarr/internal/resolver"

// RegisterAll wires the canonical parser set into the registry. Order is
// dispatch order: more specific URL spaces never collide here, so the order
// is just the stable canonical one.
func RegisterAll(r *resolver.Registry) {
	r.MustRegister(resolver.Descriptor{Name: "douyin", New: NewDouyin})
	r.MustRegister(resolver.Descriptor{Name: "kuaishou", New: NewKuaishou})
	r.MustRegister(resolver.Descriptor{Name: "bilibili", New: NewBilibili})
	r.MustRegister(resolver.Descriptor{Name: "xiaohongshu", New: NewXiaohongshu})
	r.MustRegister(resolver.Descriptor{Name: "xiaoheihe", New: NewXiaoheihe})
	r.MustRegister(resolver.Descriptor{Name: "twitter", RequiresProxy: true, New: NewTwitter})
}

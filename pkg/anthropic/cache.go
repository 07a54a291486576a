package anthropic

// BuildCachedSystemBlocks returns a single system block with a cache
// breakpoint. The planning instruction is identical across jobs, so every
// request after the first reads it from the prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}

package redisq

// Key layout, all under a configurable prefix:
//
//	{prefix}:ready       zset  job id -> not_before (unix ms)
//	{prefix}:leased      zset  job id -> lease expiry (unix ms)
//	{prefix}:unit:{id}   hash  payload, not_before, owner, token, deliveries,
//	                           pending_payload, pending_not_before
//	{prefix}:lock:{id}   string lock token
type keys struct {
	prefix string
}

func (k keys) ready() string { return k.prefix + ":ready" }
func (k keys) leased() string { return k.prefix + ":leased" }
func (k keys) unitPrefix() string { return k.prefix + ":unit:" }
func (k keys) unit(id string) string { return k.unitPrefix() + id }
func (k keys) lock(name string) string { return k.prefix + ":lock:" + name }

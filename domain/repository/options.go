package repository

// WithUID filters by the "uid" column.
func WithUID(uid string) Option {
	return WithCondition("uid", uid)
}

// WithUIDs filters by the "uid" column using IN.
func WithUIDs(uids []string) Option {
	return WithConditionIn("uid", uids)
}

// WithParentUID filters by the "parent_uid" column.
func WithParentUID(uid string) Option {
	return WithCondition("parent_uid", uid)
}

// WithParentUIDs filters by the "parent_uid" column using IN.
func WithParentUIDs(uids []string) Option {
	return WithConditionIn("parent_uid", uids)
}

// WithExternalKey filters by the "external_key" column.
func WithExternalKey(key string) Option {
	return WithCondition("external_key", key)
}

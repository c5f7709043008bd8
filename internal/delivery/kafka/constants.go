package kafka

import "time"

const (
	TopicIssueRequest      = "coupon.issue.req"
	TopicHistoryRequest    = "coupon.history.req"
	TopicRedeemableRequest = "coupon.redeemable.req"
	TopicRedeemRequest     = "coupon.redeem.req"
	TopicTiersRequest      = "coupon.tiers.req"
	TopicIssueRetry        = "coupon.issue.retry"
	TopicHistoryRetry      = "coupon.history.retry"
	TopicRedeemableRetry   = "coupon.redeemable.retry"
	TopicRedeemRetry       = "coupon.redeem.retry"
	TopicTiersRetry        = "coupon.tiers.retry"
	TopicReplyPrefix       = "coupon.reply."
	TopicRequestSuffix     = ".req"
	TopicRetrySuffix       = ".retry"
	TopicDLQSuffix         = ".dlq"

	RequestTimeout = 5 * time.Second

	RetryMaxAttempts = 3
	RetryBackoff     = 250 * time.Millisecond

	RetryHeaderNextAt  = "x-next-at"
	RetryHeaderAttempt = "x-attempt"
	ErrorHeaderKey     = "x-error"
)

// RequestTopics are consumed by the main consumer group.
var RequestTopics = []string{
	TopicIssueRequest,
	TopicHistoryRequest,
	TopicRedeemableRequest,
	TopicRedeemRequest,
	TopicTiersRequest,
}

var RetryTopics = []string{
	TopicIssueRetry,
	TopicHistoryRetry,
	TopicRedeemableRetry,
	TopicRedeemRetry,
	TopicTiersRetry,
}

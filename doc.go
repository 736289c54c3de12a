// Package quotagate gates a paid capability behind per-subscriber
// entitlements: every request is rate limited, checked against the
// subscriber's tier and remaining quota, priced, executed and finally
// debited from an authoritative ledger. Completed requests carry a
// receipt that anyone holding the payload and response can verify.
//
// # Embedding
//
//	gate, _ := quotagate.New(ctx,
//	    quotagate.WithLedgerDriver("sqlite", "./data/ledger.db"),
//	    quotagate.WithCapability(myCapability),
//	)
//	defer gate.Close()
//
//	_ = gate.Grant(ctx, quotagate.Grant{
//	    SubscriberID: "0xabc", TierID: "basic", Quota: 100,
//	    ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
//	})
//
//	o := gate.Submit(ctx, quotagate.Request{SubscriberID: "0xabc", Payload: "forecast gas fees"})
//	if err := o.Err(); err != nil {
//	    // errors.Is(err, quotagate.ErrQuotaExhausted), ...
//	}
//
// A custom authoritative ledger plugs in through the Ledger interface.
// CommitUsage must be idempotent per correlation id.
package quotagate

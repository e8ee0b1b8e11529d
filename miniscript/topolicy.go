// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"fmt"

	"github.com/btcsuite/btcpolicy/policy"
)

// ToPolicy recovers the spending policy a fragment enforces. Wrappers are
// dropped, every conjunction becomes And, every disjunction becomes Or and
// thresholds become Threshold, so the weighting of AsymmetricOr is not
// recovered.
func (a *AstElem) ToPolicy() (policy.Policy, error) {
	switch a.kind {
	case KindPk, KindPkV, KindPkQ, KindPkW:
		return policy.NewCheckSig(a.key), nil

	case KindMulti, KindMultiV:
		return policy.NewMulti(a.k, a.keys)

	case KindTimeT, KindTimeV, KindTimeF, KindTime, KindTimeW:
		p, err := policy.NewTime(a.lockTime)
		if err != nil {
			return nil, scriptError(ErrInvalidLockTime, err.Error())
		}
		return p, nil

	case KindHashT, KindHashV, KindHashW:
		return policy.NewHash(a.hash), nil

	case KindTrue, KindWrap, KindLikely, KindUnlikely:
		return a.subs[0].ToPolicy()

	case KindAndCat, KindAndBool, KindAndCasc,
		KindOrBool, KindOrCasc, KindOrCont, KindOrKey, KindOrKeyV,
		KindOrIf, KindOrIfV, KindOrNotIf:

		left, err := a.subs[0].ToPolicy()
		if err != nil {
			return nil, err
		}
		right, err := a.subs[1].ToPolicy()
		if err != nil {
			return nil, err
		}
		switch a.kind {
		case KindAndCat, KindAndBool, KindAndCasc:
			return policy.NewAnd(left, right)
		}
		return policy.NewOr(left, right)

	case KindThresh, KindThreshV:
		subs := make([]policy.Policy, 0, len(a.subs))
		for _, sub := range a.subs {
			p, err := sub.ToPolicy()
			if err != nil {
				return nil, err
			}
			subs = append(subs, p)
		}
		return policy.NewThreshold(a.k, subs)

	default:
		return nil, AssertError(fmt.Sprintf("unknown fragment kind %v",
			a.kind))
	}
}

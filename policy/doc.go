// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package policy describes the conditions under which an output may be spent:
signatures, relative time locks, hash preimages, thresholds and boolean
combinations of them.

Policies are written in a small functional language:

	pk(K)                 a signature for key K
	multi(k,K1,...,Kn)    signatures for k of the keys
	hash(H)               the SHA256 preimage of H
	time(n)               a relative lock time of n
	thresh(k,P1,...,Pn)   k of the sub-policies
	and(P,Q)              both sub-policies
	or(P,Q)               either sub-policy, equally likely
	aor(P,Q)              either sub-policy, P far more likely than Q

Keys are hex encoded compressed public keys and hashes are 32 hex encoded
bytes.  Either may be replaced by an identifier resolved by the LookupFunc
passed to Parse.
*/
package policy

// Package peers persists the bootstrap list a node dials on startup before
// its own gossip.PeerTable has learned anything by contact.
//
// There is no validator-set or genesis concept here: gossip membership is
// not a consensus group, peers are not identified by public key, and the
// working set that actually drives sync is gossip.PeerTable, rebuilt from
// live contact. The seed file only answers "who do I try first".
package peers

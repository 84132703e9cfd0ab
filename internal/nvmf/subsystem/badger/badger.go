// Package badger provides a persistent Subsystem backed by BadgerDB, for
// deployments that need per-namespace reservation state to survive a
// process restart instead of resetting to an empty in-memory registry every
// time. ANA group state is not persisted. Grounded on the
// the pkg/metadata/store/badger package: same prefixed-key namespace
// convention, same db.Update/db.View transaction shape, JSON-encoded
// records. Runtime bookkeeping that cannot outlive a TCP connection
// anyway (live *ctrlr.Controller sessions) is still kept in memory, the
// same division MemSubsystem uses.
package badger

import (
	"encoding/json"
	"fmt"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
)

// Key namespace, mirroring the "Data Type / Prefix / Key Format"
// table convention:
//
//	Subsystem record   "sub:"   sub:<nqn>                  subsystemRecord (JSON)
//	Namespace record   "ns:"    ns:<nqn>:<nsid>             namespaceRecord (JSON)
//	Reservation record "res:"   res:<nqn>:<nsid>            reservationRecord (JSON)
const (
	prefixSubsystem   = "sub:"
	prefixNamespace   = "ns:"
	prefixReservation = "res:"
)

// keyLayoutVersion stores the single versioned record identifying the
// key/record layout above. There is no SQL schema here to run a real
// migration tool against, so a layout bump is detected, not migrated:
// Open refuses to attach to a database written by a newer version, and a
// missing key (first open) is stamped with the current one.
var keyLayoutVersion = []byte("v:layout")

// layoutVersion is bumped whenever prefixSubsystem/prefixNamespace/
// prefixReservation's record encoding changes incompatibly.
const layoutVersion = 1

func checkLayoutVersion(db *badgerdb.DB) error {
	return db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyLayoutVersion)
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set(keyLayoutVersion, []byte(fmt.Sprintf("%d", layoutVersion)))
		}
		if err != nil {
			return fmt.Errorf("read layout version: %w", err)
		}
		var stored int
		if err := item.Value(func(val []byte) error {
			_, scanErr := fmt.Sscanf(string(val), "%d", &stored)
			return scanErr
		}); err != nil {
			return fmt.Errorf("decode layout version: %w", err)
		}
		if stored > layoutVersion {
			return fmt.Errorf("database layout version %d is newer than this binary supports (%d)", stored, layoutVersion)
		}
		return nil
	})
}

func keySubsystem(nqn string) []byte {
	return []byte(prefixSubsystem + nqn)
}

func keyNamespace(nqn string, nsid uint32) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", prefixNamespace, nqn, nsid))
}

func keyReservation(nqn string, nsid uint32) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", prefixReservation, nqn, nsid))
}

// Store opens and owns the on-disk BadgerDB database a Subsystem persists
// its reservation and layout state to. One Store may back multiple
// Subsystem instances (one subsystem record each).
type Store struct {
	db *badgerdb.DB
}

// Open opens (creating if necessary) a BadgerDB database at path.
func Open(path string) (*Store, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", path, err)
	}
	if err := checkLayoutVersion(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badger: %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Healthcheck verifies the database is still accessible, mirroring the
// the lightweight read-transaction liveness probe.
func (s *Store) Healthcheck() error {
	err := s.db.View(func(txn *badgerdb.Txn) error { return nil })
	if err != nil {
		return fmt.Errorf("badger: healthcheck: %w", err)
	}
	return nil
}

type subsystemRecord struct {
	NQN          string `json:"nqn"`
	Serial       string `json:"serial"`
	Model        string `json:"model"`
	Subtype      int    `json:"subtype"`
	ANAReporting bool   `json:"ana_reporting"`
}

type reservationRecord struct {
	Registered  map[string]uint64 `json:"registered"` // hex-encoded hostID -> key
	Holder      string            `json:"holder,omitempty"`
	HolderValid bool              `json:"holder_valid"`
	Type        uint8             `json:"type"`
}

// Subsystem wraps subsystem.MemSubsystem, write-through persisting every
// reservation mutation. It also writes a record for the subsystem and an
// attach marker for each namespace, but only reservation state is read
// back: the set of attached namespaces and ANA state are not restored. Live
// controller sessions are not persisted: a cntlid registered before a
// restart must reconnect and Connect again, same as any NVMe/TCP target
// losing its TCP associations on process death.
type Subsystem struct {
	*subsystem.MemSubsystem
	store *Store

	mu sync.Mutex
}

// OpenSubsystem creates a persistent subsystem identified by nqn and writes
// (or overwrites) its subsystem record in store. Previously attached
// namespaces are not re-attached; a namespace's reservation state is
// reloaded when AttachNamespace is called for its nsid.
func OpenSubsystem(store *Store, nqn, serial, model string, subtype subsystem.SubsystemType) (*Subsystem, error) {
	mem := subsystem.NewMemSubsystem(nqn, serial, model, subtype)
	rec := subsystemRecord{NQN: nqn, Serial: serial, Model: model, Subtype: int(subtype)}
	if err := store.db.Update(func(txn *badgerdb.Txn) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(keySubsystem(nqn), data)
	}); err != nil {
		return nil, fmt.Errorf("badger: persist subsystem %s: %w", nqn, err)
	}
	return &Subsystem{MemSubsystem: mem, store: store}, nil
}

// AttachNamespace wraps dev in a reservation-persisting Namespace, loads
// any reservation state left over from before a restart, and attaches it
// to the underlying MemSubsystem.
func (s *Subsystem) AttachNamespace(nsid uint32, dev bdev.BlockDevice) (*Namespace, error) {
	ns := &Namespace{
		MemNamespace: subsystem.NewMemNamespace(nsid, dev),
		store:        s.store,
		nqn:          s.NQN(),
		nsid:         nsid,
	}
	if err := ns.reload(); err != nil {
		return nil, err
	}
	if err := s.AddNamespace(ns); err != nil {
		return nil, err
	}
	if err := s.store.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyNamespace(s.NQN(), nsid), []byte{1})
	}); err != nil {
		log.Warn("failed to persist namespace attach record", "nqn", s.NQN(), "nsid", nsid, "error", err)
	}
	return ns, nil
}

// Namespace is a subsystem.Namespace whose reservation state (registered
// hosts, the current holder and reservation type) is persisted to Badger
// on every mutation, so a Persist Through Power Loss reservation survives
// a process restart per the NVMe reservations model.
type Namespace struct {
	*subsystem.MemNamespace
	store *Store
	nqn   string
	nsid  uint32

	mu sync.Mutex
}

func (n *Namespace) key() []byte { return keyReservation(n.nqn, n.nsid) }

func (n *Namespace) reload() error {
	return n.store.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(n.key())
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var rec reservationRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			for hex, key := range rec.Registered {
				var id [16]byte
				if decoded, err := decodeHostID(hex); err == nil {
					id = decoded
					n.MemNamespace.Register(id, key)
				}
			}
			if rec.HolderValid {
				if id, err := decodeHostID(rec.Holder); err == nil {
					// Re-acquire directly against the embedded MemNamespace
					// so the restored holder bypasses the "must be
					// registered" check order (it already is, from the
					// loop above) and lands with its original type.
					_ = n.MemNamespace.Acquire(id, subsystem.ReservationType(rec.Type))
				}
			}
			return nil
		})
	})
}

func (n *Namespace) persist() error {
	hostID, rtype, held := n.MemNamespace.ReservationHolder()
	rec := reservationRecord{
		Registered:  map[string]uint64{},
		HolderValid: held,
		Type:        uint8(rtype),
	}
	if held {
		rec.Holder = encodeHostID(hostID)
	}
	for id, key := range n.MemNamespace.RegisteredHosts() {
		rec.Registered[encodeHostID(id)] = key
	}
	return n.store.db.Update(func(txn *badgerdb.Txn) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(n.key(), data)
	})
}

func (n *Namespace) Register(hostID [16]byte, key uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.MemNamespace.Register(hostID, key)
	if err := n.persist(); err != nil {
		log.Warn("failed to persist reservation registration", "nqn", n.nqn, "nsid", n.nsid, "error", err)
	}
}

func (n *Namespace) Unregister(hostID [16]byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.MemNamespace.Unregister(hostID)
	if err := n.persist(); err != nil {
		log.Warn("failed to persist reservation unregister", "nqn", n.nqn, "nsid", n.nsid, "error", err)
	}
}

func (n *Namespace) Acquire(hostID [16]byte, rtype subsystem.ReservationType) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.MemNamespace.Acquire(hostID, rtype); err != nil {
		return err
	}
	if err := n.persist(); err != nil {
		log.Warn("failed to persist reservation acquire", "nqn", n.nqn, "nsid", n.nsid, "error", err)
	}
	return nil
}

func (n *Namespace) Release(hostID [16]byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.MemNamespace.Release(hostID)
	if err := n.persist(); err != nil {
		log.Warn("failed to persist reservation release", "nqn", n.nqn, "nsid", n.nsid, "error", err)
	}
}

func encodeHostID(id [16]byte) string {
	return fmt.Sprintf("%x", id)
}

func decodeHostID(hex string) ([16]byte, error) {
	var id [16]byte
	if len(hex) != 32 {
		return id, status.New(status.SCTGeneric, status.SCInvalidField, "malformed persisted host id")
	}
	for i := range id {
		var b int
		if _, err := fmt.Sscanf(hex[i*2:i*2+2], "%02x", &b); err != nil {
			return id, err
		}
		id[i] = byte(b)
	}
	return id, nil
}

// RemoveController also drops the controller's cntlid the same as
// MemSubsystem; cntlid allocation itself is not persisted, matching that a
// restarted target starts a fresh dynamic-cntlid sequence, same as the
// in-memory registry.
func (s *Subsystem) RemoveController(cntlid uint16) {
	s.MemSubsystem.RemoveController(cntlid)
}

var _ subsystem.Subsystem = (*Subsystem)(nil)
var _ subsystem.Namespace = (*Namespace)(nil)

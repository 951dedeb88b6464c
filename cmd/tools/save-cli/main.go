package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/annel0/rift-server/internal/storage"
	"github.com/annel0/rift-server/internal/world"
)

const opTimeout = 10 * time.Second

func main() {
	var (
		backend    = flag.String("backend", "badger", "Storage backend: badger, redis, mongo, maria")
		badgerPath = flag.String("badger-path", "data/saves", "BadgerDB directory")
		redisAddr  = flag.String("redis-addr", "localhost:6379", "Redis address")
		redisDB    = flag.Int("redis-db", 0, "Redis database number")
		mongoURI   = flag.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
		mariaDSN   = flag.String("maria-dsn", "", "MariaDB/MySQL DSN")
		scopeName  = flag.String("scope", "shared", "Graph scope the server runs with: shared or per_player")
		command    = flag.String("cmd", "show", "Command: show, clear")
		player     = flag.String("player", "", "Player ID; empty targets the shared world snapshot")
		asJSON     = flag.Bool("json", false, "Dump stored JSON instead of the formatted view")
	)
	flag.Parse()

	scope := world.ParseScope(*scopeName)
	key, err := targetKey(scope, *player)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	if *backend == "memory" {
		// Память живёт внутри процесса сервера, снаружи смотреть не на что
		log.Fatalf("❌ Memory backend holds no data outside the server process")
	}

	store, err := storage.Open(storage.Options{
		Backend:    *backend,
		BadgerPath: *badgerPath,
		RedisAddr:  *redisAddr,
		RedisDB:    *redisDB,
		MongoURI:   *mongoURI,
		MariaDSN:   *mariaDSN,
	})
	if err != nil {
		// Badger держит эксклюзивную блокировку каталога
		log.Fatalf("❌ Failed to open storage (is the server running on the same badger dir?): %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch *command {
	case "show":
		if err := showSave(ctx, store, scope, key, *player, *asJSON); err != nil {
			log.Fatalf("❌ Show failed: %v", err)
		}

	case "clear":
		if err := clearSave(ctx, store, key); err != nil {
			log.Fatalf("❌ Clear failed: %v", err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: show, clear")
		os.Exit(1)
	}
}

// targetKey выбирает ключ хранилища по области графа и игроку.
// Схема та же, что у менеджера сохранений сервера.
func targetKey(scope world.GraphScope, player string) (string, error) {
	if player == "" {
		if scope == world.ScopePerPlayer {
			return "", fmt.Errorf("per_player scope stores no world snapshot, pass -player")
		}
		return storage.WorldSaveKey, nil
	}
	if scope == world.ScopePerPlayer {
		return storage.PlayerSaveKey(player), nil
	}
	return storage.PlayerSessionKey(player), nil
}

// showSave читает и печатает запись по ключу
func showSave(ctx context.Context, store storage.KVStore, scope world.GraphScope, key, player string, asJSON bool) error {
	data, found, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		fmt.Printf("🤷 No save under key %s\n", key)
		return nil
	}

	if asJSON {
		return dumpJSON(data)
	}

	// В общем мире запись игрока — это только прогресс, без графа
	if player != "" && scope == world.ScopeShared {
		var blob storage.SessionSnapshot
		if err := json.Unmarshal(data, &blob); err != nil {
			fmt.Printf("⚠️ Session record rejected: %v\n", err)
			return dumpJSON(data)
		}
		fmt.Printf("💾 Session %s (version %d, %d bytes)\n", key, blob.Version, len(data))
		fmt.Printf("   saved_at: %s\n", blob.SavedAt.Format(time.RFC3339))
		printSession(&blob.Session)
		return nil
	}

	snap, err := storage.DecodeSnapshot(data)
	if err != nil {
		// Сервер бы начал с чистого мира; инструменту полезнее показать сырое
		fmt.Printf("⚠️ Snapshot rejected: %v\n", err)
		return dumpJSON(data)
	}
	printSnapshot(key, snap, len(data))
	return nil
}

// clearSave удаляет запись по ключу
func clearSave(ctx context.Context, store storage.KVStore, key string) error {
	if err := store.Delete(ctx, key); err != nil {
		return err
	}
	fmt.Printf("✅ Deleted %s\n", key)
	fmt.Println("⚠️ A running server keeps its state in memory and may rewrite the key on the next autosave")
	return nil
}

// printSnapshot печатает снимок графа в читаемом виде
func printSnapshot(key string, snap *storage.Snapshot, size int) {
	fmt.Printf("💾 Snapshot %s (version %d, %d bytes)\n", key, snap.Version, size)
	fmt.Printf("   saved_at: %s\n", snap.SavedAt.Format(time.RFC3339))
	fmt.Printf("   world_seed: %d\n", snap.WorldSeed)
	fmt.Printf("   regions: %d, region_count: %d, unlinked pads: %d\n", len(snap.Regions), snap.RegionCount, snap.UnlinkedPads)
	fmt.Println()

	ids := make([]string, 0, len(snap.Regions))
	for id := range snap.Regions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return snap.Regions[ids[i]].RegionNum < snap.Regions[ids[j]].RegionNum
	})

	for _, id := range ids {
		rec := snap.Regions[id]
		marker := " "
		if id == snap.ActiveRegion {
			marker = "*"
		}
		legacy := ""
		if rec.Seed == 0 {
			legacy = " [legacy geometry]"
		}
		fmt.Printf(" %s #%-3d %-24s %-9s pads=%d links=%d%s\n",
			marker, rec.RegionNum, id, rec.MapType, rec.PadCount, len(rec.PadLinks), legacy)

		padIDs := make([]int, 0, len(rec.PadLinks))
		for padID := range rec.PadLinks {
			padIDs = append(padIDs, padID)
		}
		sort.Ints(padIDs)
		for _, padID := range padIDs {
			target := rec.PadLinks[padID]
			fmt.Printf("      pad %d -> %s:%d\n", padID, target.RegionID, target.PadID)
		}
	}

	if snap.Session != nil {
		fmt.Println()
		printSession(snap.Session)
	}
}

// printSession печатает прогресс игрока
func printSession(s *storage.SessionRecord) {
	fmt.Printf("   session: region=%s room=%d\n", s.CurrentRegionID, s.CurrentRoomID)

	nums := make([]int, 0, len(s.VisitedRooms))
	for num := range s.VisitedRooms {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	for _, num := range nums {
		fmt.Printf("      region #%d: %d rooms visited\n", num, len(s.VisitedRooms[num]))
	}
}

// dumpJSON печатает сохранённые байты с отступами
func dumpJSON(data []byte) error {
	var pretty json.RawMessage = data
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		// Не JSON: выводим как есть
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(string(out))
	return nil
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/annel0/rift-server/internal/eventbus"
	"github.com/annel0/rift-server/internal/storage"
	"github.com/annel0/rift-server/internal/transition"
	"github.com/annel0/rift-server/internal/world"
)

const (
	defaultServerAddr = "nats://127.0.0.1:4222"
	defaultStream     = "RIFT_EVENTS"
	timeFormat        = "2006-01-02T15:04:05Z"

	// idleTimeout пауза без событий, после которой считаем, что
	// сохранённая часть стрима дочитана
	idleTimeout = 2 * time.Second
)

func main() {
	var (
		serverAddr = flag.String("server", defaultServerAddr, "NATS server URL")
		stream     = flag.String("stream", defaultStream, "JetStream stream name")
		command    = flag.String("cmd", "tail", "Command: tail, stats, types")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		sources    = flag.String("sources", "", "Source components filter (comma-separated: world, transition, storage)")
		players    = flag.String("players", "", "Player IDs filter (comma-separated)")
		since      = flag.String("since", "", "Start time: duration back from now (1h, 30m) or RFC3339; empty = full stream")
		limit      = flag.Int("limit", 100, "Maximum number of events to print (0 = unlimited)")
		follow     = flag.Bool("follow", false, "Keep following new events after the stored part (like tail -f)")
	)
	flag.Parse()

	// types не требует подключения: каталог известен на этапе сборки
	if *command == "types" {
		showTypes()
		return
	}

	startTime, err := parseSinceTime(*since, time.Now())
	if err != nil {
		log.Fatalf("❌ Invalid since time: %v", err)
	}

	nc, err := nats.Connect(*serverAddr, nats.Name("rift-event-cli"), nats.Timeout(5*time.Second))
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer nc.Drain()

	js, err := nc.JetStream()
	if err != nil {
		log.Fatalf("❌ JetStream unavailable: %v", err)
	}

	switch *command {
	case "tail":
		if err := tailEvents(js, &TailOptions{
			Stream:     *stream,
			EventTypes: parseStringList(*eventTypes),
			Sources:    parseStringList(*sources),
			Players:    parseStringList(*players),
			Since:      startTime,
			Limit:      *limit,
			Follow:     *follow,
		}); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}

	case "stats":
		if err := showStats(js, &StatsOptions{
			Stream:     *stream,
			EventTypes: parseStringList(*eventTypes),
			Sources:    parseStringList(*sources),
			Since:      startTime,
		}); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats, types")
		os.Exit(1)
	}
}

type TailOptions struct {
	Stream     string
	EventTypes []string
	Sources    []string
	Players    []string
	Since      time.Time
	Limit      int
	Follow     bool
}

type StatsOptions struct {
	Stream     string
	EventTypes []string
	Sources    []string
	Since      time.Time
}

// subscribeStream вешает эфемерного потребителя без подтверждений и
// складывает разобранные конверты в канал. Subject сужается до
// конкретного типа, когда фильтр содержит ровно один тип.
func subscribeStream(js nats.JetStreamContext, streamName string, eventTypes []string, since time.Time, events chan<- *eventbus.Envelope) (*nats.Subscription, error) {
	subj := "rift.events.*"
	if len(eventTypes) == 1 {
		subj = "rift.events." + eventTypes[0]
	}

	subOpts := []nats.SubOpt{nats.AckNone(), nats.BindStream(streamName)}
	if since.IsZero() {
		subOpts = append(subOpts, nats.DeliverAll())
	} else {
		subOpts = append(subOpts, nats.StartTime(since))
	}

	return js.Subscribe(subj, func(msg *nats.Msg) {
		var ev eventbus.Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		events <- &ev
	}, subOpts...)
}

// tailEvents выводит события стрима в реальном времени
func tailEvents(js nats.JetStreamContext, opts *TailOptions) error {
	fmt.Printf("🎬 Tailing stream %s (limit: %d, follow: %v)\n", opts.Stream, opts.Limit, opts.Follow)

	events := make(chan *eventbus.Envelope, 512)
	sub, err := subscribeStream(js, opts.Stream, opts.EventTypes, opts.Since, events)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	printed := 0
	for {
		select {
		case ev := <-events:
			if !matchEvent(ev, opts.EventTypes, opts.Sources, opts.Players) {
				continue
			}
			printEvent(ev)
			printed++
			if opts.Limit > 0 && printed >= opts.Limit {
				fmt.Printf("\n📊 Total events: %d\n", printed)
				return nil
			}

		case <-time.After(idleTimeout):
			if !opts.Follow {
				fmt.Printf("\n📊 Total events: %d\n", printed)
				return nil
			}

		case <-sigCh:
			fmt.Printf("\n📊 Total events: %d\n", printed)
			return nil
		}
	}
}

// showStats перечитывает стрим и сводит события по типам и источникам
func showStats(js nats.JetStreamContext, opts *StatsOptions) error {
	info, err := js.StreamInfo(opts.Stream)
	if err != nil {
		return fmt.Errorf("stream info: %w", err)
	}

	fmt.Printf("📊 Event statistics for stream %s\n", opts.Stream)
	fmt.Printf("Stored: %d events, %s, consumers: %d\n", info.State.Msgs, humanBytes(info.State.Bytes), info.State.Consumers)
	if info.State.Msgs == 0 {
		return nil
	}
	fmt.Printf("Oldest: %s, newest: %s\n",
		info.State.FirstTime.UTC().Format(timeFormat),
		info.State.LastTime.UTC().Format(timeFormat))

	events := make(chan *eventbus.Envelope, 512)
	sub, err := subscribeStream(js, opts.Stream, opts.EventTypes, opts.Since, events)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	byType := make(map[string]int)
	bySource := make(map[string]int)
	seen := uint64(0)
	total := 0

	// seen считает все полученные сообщения, total только прошедшие
	// фильтр: дочитанность стрима определяется по seen
	for seen < info.State.Msgs {
		select {
		case ev := <-events:
			seen++
			if !matchEvent(ev, opts.EventTypes, opts.Sources, nil) {
				continue
			}
			byType[ev.EventType]++
			bySource[ev.Source]++
			total++

		case <-time.After(idleTimeout):
			// Subject-фильтр или since отсекли часть стрима на сервере
			seen = info.State.Msgs
		}
	}

	fmt.Printf("\nTotal events: %d\n", total)
	fmt.Println("\nBy event type:")
	printCounts(byType)
	fmt.Println("\nBy source:")
	printCounts(bySource)
	return nil
}

// printCounts печатает счётчики по убыванию
func printCounts(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		fmt.Printf("  %-24s %d events\n", key, counts[key])
	}
}

// showTypes выводит каталог типов событий, которые публикует сервер
func showTypes() {
	fmt.Println("📋 Known event types")
	fmt.Println()

	catalog := []struct {
		name, source, desc string
	}{
		{world.EventRegionCreated, "world", "регион добавлен в граф"},
		{world.EventPadsLinked, "world", "записана симметричная связь падов"},
		{world.EventRegionActivated, "world", "смена активного региона"},
		{transition.EventTransitionRequested, "transition", "запрос прыжка принят координатором"},
		{transition.EventTransitionPhase, "transition", "смена фазы перехода"},
		{transition.EventTransitionCompleted, "transition", "переход завершён, игрок в Idle"},
		{transition.EventTransitionFailed, "transition", "переход прерван"},
		{transition.EventAreaInfo, "transition", "HUD уведомлён о прибытии"},
		{storage.EventSavedDataCleared, "storage", "сохранение игрока или мира очищено"},
	}

	for _, entry := range catalog {
		fmt.Printf("Type: %s\n", entry.name)
		fmt.Printf("  Source: %s\n", entry.source)
		fmt.Printf("  Description: %s\n", entry.desc)
		fmt.Println()
	}
	fmt.Println("Counts per type: event-cli -cmd stats")
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	head := fmt.Sprintf("[%s] %-10s %-22s", ev.Timestamp.Local().Format("15:04:05.000"), ev.Source, ev.EventType)
	if ev.Player != "" {
		head += " player=" + ev.Player
	}
	fmt.Println(head)

	// Детали в зависимости от типа события
	switch ev.EventType {
	case world.EventRegionCreated:
		var p world.RegionCreatedEvent
		if json.Unmarshal(ev.Payload, &p) == nil {
			origin := ""
			if p.IsOrigin {
				origin = " origin"
			}
			fmt.Printf("  🌍 %s #%d type=%s pads=%d seed=%d%s\n", p.RegionID, p.RegionNum, p.MapType, p.PadCount, p.Seed, origin)
			return
		}

	case world.EventPadsLinked:
		var p world.PadsLinkedEvent
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Printf("  🔗 %s:%d <-> %s:%d\n", p.RegionA, p.PadA, p.RegionB, p.PadB)
			return
		}

	case world.EventRegionActivated:
		var p world.RegionActivatedEvent
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Printf("  💡 active: %s (#%d)\n", p.RegionID, p.RegionNum)
			return
		}

	case transition.EventTransitionRequested:
		var p transition.TransitionRequestedEvent
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Printf("  🚀 %s from %s:%d new_region=%v\n", p.TransitionID, p.SourceRegion, p.SourcePad, p.IsNewRegion)
			return
		}

	case transition.EventTransitionPhase:
		var p transition.TransitionPhaseEvent
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Printf("  ⏱️ %s phase=%s\n", p.TransitionID, p.Phase)
			return
		}

	case transition.EventTransitionCompleted:
		var p transition.TransitionCompletedEvent
		if json.Unmarshal(ev.Payload, &p) == nil {
			if p.IsExitToTitle {
				fmt.Printf("  ✅ %s exit to title (%dms)\n", p.TransitionID, p.DurationMs)
			} else {
				fmt.Printf("  ✅ %s -> %s (%dms)\n", p.TransitionID, p.TargetRegion, p.DurationMs)
			}
			return
		}

	case transition.EventTransitionFailed:
		var p transition.TransitionFailedEvent
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Printf("  ⚠️ %s reason=%s\n", p.TransitionID, p.Reason)
			return
		}

	case transition.EventAreaInfo:
		var p transition.AreaInfoEvent
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Printf("  🚪 region #%d room %d visited=%d\n", p.RegionNum, p.RoomNum, len(p.VisitedRooms))
			return
		}

	case storage.EventSavedDataCleared:
		var p storage.SavedDataClearedEvent
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Printf("  💾 cleared success=%v\n", p.Success)
			return
		}
	}

	if len(ev.Payload) > 0 {
		fmt.Printf("  %s\n", string(ev.Payload))
	}
}

// matchEvent проверяет событие против клиентских фильтров
func matchEvent(ev *eventbus.Envelope, types, sources, players []string) bool {
	return containsOrEmpty(types, ev.EventType) &&
		containsOrEmpty(sources, ev.Source) &&
		containsOrEmpty(players, ev.Player)
}

// containsOrEmpty пустой список пропускает всё
func containsOrEmpty(list []string, val string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == val {
			return true
		}
	}
	return false
}

// humanBytes печатает объём в удобных единицах
func humanBytes(n uint64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseSinceTime парсит относительное время типа "1h", "30m" либо
// абсолютное в RFC3339. Пустая строка — нулевое время (весь стрим).
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	if since == "" {
		return time.Time{}, nil
	}

	duration, err := time.ParseDuration(since)
	if err != nil {
		// Пробуем парсить как абсолютное время
		return time.Parse(timeFormat, since)
	}

	return from.Add(-duration), nil
}

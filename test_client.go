package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/network"
)

// Ручной клиент для прогона протокола против живого сервера.
// Запуск: go run test_client.go -server localhost:7777 -jumps 2

func main() {
	var (
		serverAddr = flag.String("server", "localhost:7777", "адрес игрового сервера")
		transport  = flag.String("transport", "tcp", "транспорт: tcp или kcp")
		playerID   = flag.String("player", "test_client", "идентификатор игрока")
		token      = flag.String("token", "", "JWT токен, если сервер проверяет hello")
		jumps      = flag.Int("jumps", 2, "сколько прыжков выполнить")
		settle     = flag.Duration("settle", 2*time.Second, "пауза после схода с пада, больше серверного дебаунса")
	)
	flag.Parse()

	fmt.Println("=== ТЕСТОВЫЙ КЛИЕНТ RIFT ===")

	logger := logging.GetComponentLogger("test-client")
	ctx := context.Background()

	channel, err := connect(ctx, *transport, *serverAddr, logger)
	if err != nil {
		log.Fatalf("❌ Подключение: %v", err)
	}
	defer channel.Close()
	fmt.Printf("✅ Подключен к %s по %s\n", *serverAddr, *transport)

	fmt.Println("\n=== ТЕСТ 1: PING ===")
	if err := testPing(ctx, channel); err != nil {
		log.Fatalf("❌ Ping: %v", err)
	}

	fmt.Println("\n=== ТЕСТ 2: ВХОД ===")
	state, err := testHello(ctx, channel, *playerID, *token)
	if err != nil {
		log.Fatalf("❌ Вход: %v", err)
	}

	fmt.Println("\n=== ТЕСТ 3: ПЕРЕХОДЫ ===")
	for i := 0; i < *jumps; i++ {
		fmt.Printf("\n--- прыжок %d из %d ---\n", i+1, *jumps)
		if err := testJump(ctx, channel, state, *settle); err != nil {
			log.Fatalf("❌ Прыжок %d: %v", i+1, err)
		}
	}

	fmt.Println("\n=== ТЕСТ 4: ВЫХОД В МЕНЮ ===")
	if err := testExit(ctx, channel); err != nil {
		log.Fatalf("❌ Выход: %v", err)
	}

	fmt.Println("\n✅ Все тесты пройдены")
}

// clientState текущая геометрия и позиция игрока
type clientState struct {
	layout   *network.LayoutPayload
	position network.PointPayload
}

// connect устанавливает канал выбранного транспорта
func connect(ctx context.Context, transport, addr string, logger *logging.Logger) (network.NetChannel, error) {
	switch transport {
	case "kcp":
		channel, err := network.NewKCPChannel(logger)
		if err != nil {
			return nil, err
		}
		if err := channel.Connect(ctx, addr); err != nil {
			return nil, err
		}
		return channel, nil

	case "tcp":
		channel, err := network.NewTCPChannel(logger)
		if err != nil {
			return nil, err
		}
		if err := channel.Connect(ctx, addr); err != nil {
			return nil, err
		}
		return channel, nil

	default:
		return nil, fmt.Errorf("неизвестный транспорт: %s", transport)
	}
}

// testPing измеряет RTT до сервера
func testPing(ctx context.Context, channel network.NetChannel) error {
	start := time.Now()
	if err := send(ctx, channel, network.MsgPing, nil); err != nil {
		return err
	}
	if _, err := await(ctx, channel, network.MsgPong, 5*time.Second); err != nil {
		return err
	}
	fmt.Printf("🏓 RTT: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// testHello проходит рукопожатие и печатает стартовое состояние
func testHello(ctx context.Context, channel network.NetChannel, playerID, token string) (*clientState, error) {
	err := send(ctx, channel, network.MsgHello, network.HelloPayload{PlayerID: playerID, Token: token})
	if err != nil {
		return nil, err
	}

	msg, err := await(ctx, channel, network.MsgWelcome, 10*time.Second)
	if err != nil {
		return nil, err
	}

	var welcome network.WelcomePayload
	if err := msg.UnmarshalPayload(&welcome); err != nil {
		return nil, err
	}

	fmt.Printf("🎮 Игрок %s в регионе %s (#%d), комната %d, restored=%v\n",
		welcome.PlayerID, welcome.RegionID, welcome.RegionNum, welcome.RoomID, welcome.Restored)
	fmt.Printf("   позиция: (%.1f, %.1f), контейнер: %s\n", welcome.Position.X, welcome.Position.Y, welcome.Container)
	printLayout(welcome.Layout)
	printMiniMap(welcome.MiniMap)

	return &clientState{layout: welcome.Layout, position: welcome.Position}, nil
}

// testJump сходит с пада прибытия, пережидает дебаунс, наступает на
// целевой пад и проходит все фазы перехода
func testJump(ctx context.Context, channel network.NetChannel, state *clientState, settle time.Duration) error {
	if state.layout == nil || len(state.layout.Pads) == 0 {
		return fmt.Errorf("нет геометрии региона")
	}
	target := pickPad(state.layout)

	// Точка гарантированно вне всех зон падов: за пределами региона
	away := farPoint(state.layout)
	fmt.Printf("🚶 Отходим в (%.0f, %.0f) и ждём %s\n", away.X, away.Y, settle)
	if err := send(ctx, channel, network.MsgMove, network.MovePayload{X: away.X, Y: away.Y}); err != nil {
		return err
	}
	time.Sleep(settle)

	fmt.Printf("🚶 Наступаем на пад %d в (%.1f, %.1f)\n", target.ID, target.Position.X, target.Position.Y)
	if err := send(ctx, channel, network.MsgMove, network.MovePayload{X: target.Position.X, Y: target.Position.Y}); err != nil {
		return err
	}

	msg, err := await(ctx, channel, network.MsgTransitionStart, 10*time.Second)
	if err != nil {
		return err
	}
	var signal network.SignalPayload
	if err := msg.UnmarshalPayload(&signal); err != nil {
		return err
	}
	tid := signal.TransitionID
	fmt.Printf("🚀 Переход %s начат, подтверждаем затемнение\n", tid)

	if err := send(ctx, channel, network.MsgFadeOutComplete, network.SignalPayload{TransitionID: tid}); err != nil {
		return err
	}

	msg, err = await(ctx, channel, network.MsgLoadingComplete, 15*time.Second)
	if err != nil {
		return err
	}
	var loading network.LoadingCompletePayload
	if err := msg.UnmarshalPayload(&loading); err != nil {
		return err
	}
	fmt.Printf("📦 Регион загружен: контейнер %s, прибытие (%.1f, %.1f)\n",
		loading.Container, loading.Position.X, loading.Position.Y)
	printLayout(loading.Layout)

	state.layout = loading.Layout
	state.position = loading.Position

	// transition_end приходит после построения миникарты; подтверждение
	// проявления до него сервер игнорирует
	msg, err = await(ctx, channel, network.MsgTransitionEnd, 10*time.Second)
	if err != nil {
		return err
	}
	var end network.TransitionEndPayload
	if err := msg.UnmarshalPayload(&end); err != nil {
		return err
	}
	printMiniMap(end.MiniMap)

	if err := send(ctx, channel, network.MsgTransitionComplete, network.SignalPayload{TransitionID: tid}); err != nil {
		return err
	}
	fmt.Printf("✅ Переход %s завершён\n", end.TransitionID)

	msg, err = await(ctx, channel, network.MsgAreaInfo, 5*time.Second)
	if err != nil {
		return err
	}
	var area network.AreaInfoPayload
	if err := msg.UnmarshalPayload(&area); err != nil {
		return err
	}
	fmt.Printf("🚪 HUD: регион #%d, комната %d, посещено комнат: %d\n",
		area.RegionNum, area.RoomNum, len(area.VisitedRooms))
	return nil
}

// testExit проходит выход в меню: затемнение и снос региона без загрузки
func testExit(ctx context.Context, channel network.NetChannel) error {
	if err := send(ctx, channel, network.MsgExitToTitle, nil); err != nil {
		return err
	}

	msg, err := await(ctx, channel, network.MsgTransitionStart, 10*time.Second)
	if err != nil {
		return err
	}
	var signal network.SignalPayload
	if err := msg.UnmarshalPayload(&signal); err != nil {
		return err
	}
	fmt.Printf("🚪 Выход %s начат, подтверждаем затемнение\n", signal.TransitionID)

	if err := send(ctx, channel, network.MsgFadeOutComplete, network.SignalPayload{TransitionID: signal.TransitionID}); err != nil {
		return err
	}

	if _, err := await(ctx, channel, network.MsgTransitionEnd, 10*time.Second); err != nil {
		return err
	}
	fmt.Println("👋 Вышли в меню")
	return nil
}

// pickPad выбирает пад для прыжка: любой кроме пада прибытия (id 0),
// если такой есть. В тупике единственный пад используется повторно.
func pickPad(layout *network.LayoutPayload) network.PadPayload {
	for _, pad := range layout.Pads {
		if pad.ID != 0 {
			return pad
		}
	}
	return layout.Pads[0]
}

// farPoint возвращает точку за пределами всех зон падов региона
func farPoint(layout *network.LayoutPayload) network.PointPayload {
	maxX, maxY := 0.0, 0.0
	for _, pad := range layout.Pads {
		if pad.Position.X > maxX {
			maxX = pad.Position.X
		}
		if pad.Position.Y > maxY {
			maxY = pad.Position.Y
		}
	}
	return network.PointPayload{X: maxX + 100, Y: maxY + 100}
}

// send собирает и отправляет сообщение
func send(ctx context.Context, channel network.NetChannel, msgType string, payload interface{}) error {
	msg, err := network.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return channel.Send(sctx, msg)
}

// await читает сообщения, пока не встретит нужный тип. Ошибка сервера
// прерывает ожидание; остальные попутные сообщения печатаются кратко.
func await(ctx context.Context, channel network.NetChannel, wantType string, timeout time.Duration) (*network.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, fmt.Errorf("таймаут ожидания %s", wantType)
		}

		rctx, cancel := context.WithTimeout(ctx, remain)
		msg, err := channel.Receive(rctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("ожидание %s: %w", wantType, err)
		}

		switch msg.Type {
		case wantType:
			return msg, nil
		case network.MsgError:
			var p network.ErrorPayload
			_ = msg.UnmarshalPayload(&p)
			return nil, fmt.Errorf("сервер ответил ошибкой: %s", p.Message)
		default:
			fmt.Printf("   ← попутно: %s\n", msg.Type)
		}
	}
}

// printLayout печатает сводку геометрии региона
func printLayout(layout *network.LayoutPayload) {
	if layout == nil {
		return
	}
	fmt.Printf("   геометрия: комнат=%d, дверей=%d, падов=%d\n",
		len(layout.Rooms), len(layout.Doors), len(layout.Pads))
	for _, pad := range layout.Pads {
		fmt.Printf("      пад %d: комната %d, (%.1f, %.1f), радиус %.1f\n",
			pad.ID, pad.RoomID, pad.Position.X, pad.Position.Y, pad.Radius)
	}
}

// printMiniMap печатает растровую миникарту
func printMiniMap(mm *network.MiniMapPayload) {
	if mm == nil {
		return
	}
	fmt.Printf("   миникарта региона #%d (%d комнат):\n", mm.RegionNum, mm.RoomCount)
	for _, row := range mm.Grid {
		fmt.Printf("      %s\n", row)
	}
}

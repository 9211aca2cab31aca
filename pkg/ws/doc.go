// Package ws предоставляет WebSocket клиент с promise-подобным API:
//   - Open и Close возвращают future, который завершается событием транспорта
//   - Запрос-ответ с корреляцией по request id (SendRequest, Request)
//   - Таймауты на открытие, закрытие и каждый запрос
//   - Подписки на события: OnOpen, OnMessage, OnUnpackedMessage, OnResponse, OnSend, OnClose, OnError
//
// Физическое соединение создаётся фабрикой TransportFactory, готовые реализации
// лежат в пакетах transport/gorilla и transport/nhooyr.
//
// # Клиент с JSON сообщениями
//
//	cfg := ws.DefaultClientConfig("ws://localhost:8080/ws", gorilla.Factory(gorilla.DefaultConfig()))
//	cfg.Timeout = 5 * time.Second
//	client, err := ws.NewClient(cfg)
//
//	if _, err := client.Open().Wait(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ws.CloseNormalClosure, "bye")
//
//	resp, err := client.Request(ctx, map[string]any{"foo": "bar"}, ws.RequestOptions{})
//
// Ответ сопоставляется с запросом по полю "requestId". Если id не задан,
// генерируется префикс + UUID.
//
// # Бинарный протокол
//
//	cfg := ws.DefaultClientConfig(url, factory).WithCodec(&ws.WireCodec{})
//	cfg.MessageType = ws.BinaryMessage
//
// Кадр WireCodec:
//
//	version(1) | id(8) | routeLen(2) | errorLen(2) | payloadLen(4) | route | error | payload
//
// # Закрытие
//
// При закрытии соединения все ожидающие запросы отклоняются с *CloseError,
// открытие в процессе отклоняется, закрытие в процессе завершается событием.
package ws

// Package polling превращает поток элементов коннектора в упорядоченную
// последовательность запусков flow без дублей.
//
// Единственное сохраняемое состояние — watermark: время последнего
// доставленного элемента. Один опрос выглядит так:
//
//	lock → read watermark → fetch → filter (> w) → sort → dispatch → advance
//
// Опросы одного триггера взаимно исключены lease-блокировкой; опрос,
// не получивший блокировку, пропускается.
package polling

// Package domain define tipos e contratos do carregador de prefabs.
//
// Este pacote não depende de net/http nem de implementações concretas.
// Os colaboradores externos (content store, instanciação, política de
// segurança, escolha de documento por plataforma) aparecem aqui apenas como
// interfaces; a camada infra fornece implementações.
package domain
